package limiters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goIdentity/internal"
)

var (
	ErrResetRateLimited      = errors.New("reset rate limited")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

// slidingWindowScript admits an event only when every key is under its
// limit, then records the event on all keys. Returns 0 when admitted or the
// 1-based index of the first key over budget.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local member = ARGV[3]
for i, key in ipairs(KEYS) do
  redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
  if redis.call("ZCARD", key) >= tonumber(ARGV[3 + i]) then
    return i
  end
end
for _, key in ipairs(KEYS) do
  redis.call("ZADD", key, now, member)
  redis.call("PEXPIRE", key, window)
end
return 0
`)

type ResetConfig struct {
	Window              time.Duration
	MaxRequestsPerEmail int
	MaxRequestsPerIP    int
	MaxRedeemsPerIP     int
}

// ResetLimiter throttles reset requests per email and per source address, and
// redemptions per source address, over a sliding window.
type ResetLimiter struct {
	redis  redis.UniversalClient
	config ResetConfig
	now    func() time.Time
}

func NewResetLimiter(redisClient redis.UniversalClient, cfg ResetConfig) *ResetLimiter {
	return &ResetLimiter{
		redis:  redisClient,
		config: cfg,
		now:    time.Now,
	}
}

// WithClock replaces the limiter clock. Used by tests.
func (l *ResetLimiter) WithClock(now func() time.Time) *ResetLimiter {
	l.now = now
	return l
}

// CheckRequest records one reset request for the normalized email and ip.
// A limit of zero disables that dimension.
func (l *ResetLimiter) CheckRequest(ctx context.Context, email, ip string) error {
	if l == nil {
		return nil
	}
	var (
		keys   []string
		limits []int
	)
	if l.config.MaxRequestsPerEmail > 0 && email != "" {
		keys = append(keys, requestEmailKey(email))
		limits = append(limits, l.config.MaxRequestsPerEmail)
	}
	if l.config.MaxRequestsPerIP > 0 && ip != "" {
		keys = append(keys, requestIPKey(ip))
		limits = append(limits, l.config.MaxRequestsPerIP)
	}
	return l.admit(ctx, keys, limits)
}

// CheckRedeem records one redemption attempt from ip.
func (l *ResetLimiter) CheckRedeem(ctx context.Context, ip string) error {
	if l == nil || l.config.MaxRedeemsPerIP <= 0 || ip == "" {
		return nil
	}
	return l.admit(ctx, []string{redeemIPKey(ip)}, []int{l.config.MaxRedeemsPerIP})
}

func (l *ResetLimiter) admit(ctx context.Context, keys []string, limits []int) error {
	if len(keys) == 0 {
		return nil
	}

	now := l.now().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + strconv.FormatInt(int64(internal.RandomDuration(time.Hour)), 36)

	args := make([]any, 0, 3+len(limits))
	args = append(args, now, l.config.Window.Milliseconds(), member)
	for _, limit := range limits {
		args = append(args, limit)
	}

	tripped, err := slidingWindowScript.Run(ctx, l.redis, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	if tripped != 0 {
		return ErrResetRateLimited
	}
	return nil
}

func requestEmailKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return "irl:e:" + hex.EncodeToString(sum[:])
}

func requestIPKey(ip string) string {
	return "irl:ip:" + ip
}

func redeemIPKey(ip string) string {
	return "irr:ip:" + ip
}
