package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resetTokenRecordVersionV1 = 1
	maxWatchRetries           = 4
)

var (
	ErrResetTokenNotFound         = errors.New("reset token not found")
	ErrResetTokenExpired          = errors.New("reset token expired")
	ErrResetTokenConsumed         = errors.New("reset token already consumed")
	ErrResetTokenContention       = errors.New("reset token store contention")
	ErrResetTokenRedisUnavailable = errors.New("reset token redis unavailable")
)

// compareAndDeleteScript removes KEYS[1] only while it still holds ARGV[1].
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// ResetTokenRecord is the persisted state of one reset token. The token
// itself is never stored; records are addressed by its sha256.
type ResetTokenRecord struct {
	UserID     string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt time.Time
}

// ResetTokenStore keeps reset tokens in Redis with at most one outstanding
// token per user. Consumed records stay readable until expiry plus retention
// so replays are reported as consumed rather than unknown.
type ResetTokenStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewResetTokenStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *ResetTokenStore {
	if prefix == "" {
		prefix = "irt"
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &ResetTokenStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *ResetTokenStore) tokenKey(hashHex string) string {
	return s.prefix + ":t:" + hashHex
}

func (s *ResetTokenStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Create stores a new token and removes the user's previous outstanding token
// in the same optimistic transaction.
func (s *ResetTokenStore) Create(ctx context.Context, tokenHash [32]byte, record ResetTokenRecord) error {
	encoded, err := encodeResetTokenRecord(record)
	if err != nil {
		return err
	}

	hashHex := hex.EncodeToString(tokenHash[:])
	userKey := s.userKey(record.UserID)
	ttl := s.ttlFor(record.ExpiresAt, time.Now())

	for i := 0; i < maxWatchRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			previous, err := tx.Get(ctx, userKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if previous != "" && previous != hashHex {
					pipe.Del(ctx, s.tokenKey(previous))
				}
				pipe.Set(ctx, s.tokenKey(hashHex), encoded, ttl)
				pipe.Set(ctx, userKey, hashHex, ttl)
				return nil
			})
			return err
		}, userKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrResetTokenRedisUnavailable, err)
		}
		return nil
	}

	return ErrResetTokenContention
}

// InvalidateOutstanding drops the user's outstanding token, if any.
func (s *ResetTokenStore) InvalidateOutstanding(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	for i := 0; i < maxWatchRetries; i++ {
		removed := 0
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			previous, err := tx.Get(ctx, userKey).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, s.tokenKey(previous), userKey)
				return nil
			})
			if err == nil {
				removed = 1
			}
			return err
		}, userKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrResetTokenRedisUnavailable, err)
		}
		return removed, nil
	}

	return 0, ErrResetTokenContention
}

// Consume marks the token consumed and returns its owner. Exactly one caller
// wins for a given token; every later or concurrent caller observes
// ErrResetTokenConsumed.
func (s *ResetTokenStore) Consume(ctx context.Context, tokenHash [32]byte, now time.Time) (string, error) {
	hashHex := hex.EncodeToString(tokenHash[:])
	key := s.tokenKey(hashHex)

	for i := 0; i < maxWatchRetries; i++ {
		var userID string

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrResetTokenNotFound
			}
			if err != nil {
				return err
			}

			record, err := decodeResetTokenRecord(data)
			if err != nil {
				return err
			}
			if !record.ConsumedAt.IsZero() {
				return ErrResetTokenConsumed
			}
			if !now.Before(record.ExpiresAt) {
				return ErrResetTokenExpired
			}

			record.ConsumedAt = now
			updated, err := encodeResetTokenRecord(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
				compareAndDeleteScript.Eval(ctx, pipe, []string{s.userKey(record.UserID)}, hashHex)
				return nil
			})
			if err != nil {
				return err
			}

			userID = record.UserID
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrResetTokenNotFound), errors.Is(err, ErrResetTokenExpired), errors.Is(err, ErrResetTokenConsumed):
				return "", err
			default:
				return "", fmt.Errorf("%w: %v", ErrResetTokenRedisUnavailable, err)
			}
		}

		return userID, nil
	}

	return "", ErrResetTokenContention
}

// Get returns the record without mutating it.
func (s *ResetTokenStore) Get(ctx context.Context, tokenHash [32]byte) (ResetTokenRecord, error) {
	data, err := s.redis.Get(ctx, s.tokenKey(hex.EncodeToString(tokenHash[:]))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ResetTokenRecord{}, ErrResetTokenNotFound
		}
		return ResetTokenRecord{}, fmt.Errorf("%w: %v", ErrResetTokenRedisUnavailable, err)
	}
	return decodeResetTokenRecord(data)
}

func (s *ResetTokenStore) ttlFor(expiresAt, now time.Time) time.Duration {
	remaining := expiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining + s.retention
}

func encodeResetTokenRecord(record ResetTokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetTokenRecordVersionV1)

	for _, ts := range []time.Time{record.IssuedAt, record.ExpiresAt, record.ConsumedAt} {
		var ms int64
		if !ts.IsZero() {
			ms = ts.UnixMilli()
		}
		if err := binary.Write(&buf, binary.BigEndian, ms); err != nil {
			return nil, err
		}
	}

	if len(record.UserID) > 65535 {
		return nil, errors.New("reset token user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)

	return buf.Bytes(), nil
}

func decodeResetTokenRecord(data []byte) (ResetTokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return ResetTokenRecord{}, err
	}
	if version != resetTokenRecordVersionV1 {
		return ResetTokenRecord{}, errors.New("invalid reset token record version")
	}

	var stamps [3]int64
	for i := range stamps {
		if err := binary.Read(reader, binary.BigEndian, &stamps[i]); err != nil {
			return ResetTokenRecord{}, err
		}
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return ResetTokenRecord{}, err
	}
	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return ResetTokenRecord{}, err
	}

	record := ResetTokenRecord{UserID: string(userID)}
	if stamps[0] != 0 {
		record.IssuedAt = time.UnixMilli(stamps[0])
	}
	if stamps[1] != 0 {
		record.ExpiresAt = time.UnixMilli(stamps[1])
	}
	if stamps[2] != 0 {
		record.ConsumedAt = time.UnixMilli(stamps[2])
	}
	return record, nil
}
