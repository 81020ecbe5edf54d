package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionNotFound reports a missing or concurrently destroyed session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired reports a session past its absolute lifetime.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionCorrupt reports an undecodable stored value.
	ErrSessionCorrupt = errors.New("session corrupt")
	// ErrRedisUnavailable wraps every Redis transport failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const minSlidingTTL = time.Second

const deleteSessionScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// deleteAllScript removes every session in the user index and the index
// itself in one step, so no validate can observe a partial logout.
const deleteAllScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, id in ipairs(ids) do
  removed = removed + redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return removed
`

var deleteAllLua = redis.NewScript(deleteAllScript)

// Config controls key namespace and expiry policy.
type Config struct {
	Prefix string

	// IdleTimeout is the sliding window renewed by every successful Get.
	IdleTimeout time.Duration
	// AbsoluteLifetime caps a session regardless of activity.
	AbsoluteLifetime time.Duration
	// Sliding disables idle renewal when false; sessions then live exactly
	// AbsoluteLifetime.
	Sliding bool
}

// Store is a Redis-backed session store with a sliding idle timeout bounded
// by an absolute lifetime.
type Store struct {
	redis  redis.UniversalClient
	config Config
	now    func() time.Time
}

// NewStore creates a session [Store] backed by the given Redis client.
func NewStore(redisClient redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "is"
	}
	return &Store{
		redis:  redisClient,
		config: cfg,
		now:    time.Now,
	}
}

// WithClock replaces the store clock. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) key(sessionID string) string {
	return s.config.Prefix + ":s:" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.config.Prefix + ":u:" + userID
}

// Create fills the timestamps of sess from the store clock and persists it
// together with its user index entry.
//
//	Performance: 1 MULTI (SET + SADD + PEXPIRE).
func (s *Store) Create(ctx context.Context, sess *Session) error {
	now := s.now()
	sess.CreatedAt = now.UnixMilli()
	sess.LastAccessedAt = sess.CreatedAt
	sess.ExpiresAt = now.Add(s.config.AbsoluteLifetime).UnixMilli()

	data, err := Encode(sess)
	if err != nil {
		return err
	}

	ttl := s.initialTTL()
	userKey := s.userKey(sess.UserID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		pipe.PExpire(ctx, userKey, s.config.AbsoluteLifetime)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get loads a session and, under the sliding policy, renews its idle window.
// The renewal only succeeds while the key still exists, so a session
// destroyed between the read and the renewal is reported as not found.
//
//	Performance: 1 GET, plus 1 SET XX when sliding.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := s.key(sessionID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		_ = s.redis.Del(ctx, key).Err()
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	sess.SessionID = sessionID

	now := s.now()
	remaining := time.UnixMilli(sess.ExpiresAt).Sub(now)
	if remaining <= 0 {
		if _, err := s.Delete(ctx, sess.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}

	if !s.config.Sliding {
		return sess, nil
	}

	sess.LastAccessedAt = now.UnixMilli()
	if err := s.touch(ctx, key, sess, s.nextSlidingTTL(remaining)); err != nil {
		return nil, err
	}

	return sess, nil
}

func (s *Store) touch(ctx context.Context, key string, sess *Session, ttl time.Duration) error {
	encoded, err := Encode(sess)
	if err != nil {
		return err
	}

	err = s.redis.SetArgs(ctx, key, encoded, redis.SetArgs{Mode: "XX", TTL: ttl}).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete removes one session and its index entry. It reports whether the
// session existed; deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, userID, sessionID string) (bool, error) {
	existed, err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(sessionID), s.userKey(userID)}, sessionID).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}

// Lookup returns the owner of a session without renewing it.
func (s *Store) Lookup(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	sess.SessionID = sessionID
	return sess, nil
}

// DeleteAllForUser atomically removes every session of userID and returns
// how many live sessions were deleted.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	removed, err := deleteAllLua.Run(ctx, s.redis, []string{s.userKey(userID)}, s.config.Prefix+":s:").Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return removed, nil
}

// ActiveSessionIDs returns the user's indexed sessions that still exist.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Exists(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	live := make([]string, 0, len(ids))
	for i, cmd := range cmds {
		if cmd.Val() == 1 {
			live = append(live, ids[i])
		}
	}
	return live, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) initialTTL() time.Duration {
	if s.config.Sliding && s.config.IdleTimeout > 0 && s.config.IdleTimeout < s.config.AbsoluteLifetime {
		return s.config.IdleTimeout
	}
	return s.config.AbsoluteLifetime
}

func (s *Store) nextSlidingTTL(remainingAbsolute time.Duration) time.Duration {
	nextTTL := s.config.IdleTimeout
	if nextTTL <= 0 || nextTTL > remainingAbsolute {
		nextTTL = remainingAbsolute
	}

	minTTL := minSlidingTTL
	if remainingAbsolute < minTTL {
		minTTL = remainingAbsolute
	}
	if nextTTL < minTTL {
		nextTTL = minTTL
	}

	return nextTTL
}
