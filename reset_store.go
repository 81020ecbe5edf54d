package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/redis/go-redis/v9"
)

// redisResetTokenStore serves ResetTokenStore from Redis when
// Config.ResetToken.Storage is ResetStorageRedis. Users stay in the
// CredentialStore.
type redisResetTokenStore struct {
	store *stores.ResetTokenStore
}

func newRedisResetTokenStore(rdb redis.UniversalClient, cfg ResetTokenConfig) *redisResetTokenStore {
	return &redisResetTokenStore{store: stores.NewResetTokenStore(rdb, cfg.RedisPrefix, cfg.Retention)}
}

func (s *redisResetTokenStore) CreateResetToken(ctx context.Context, record ResetTokenRecord) error {
	err := s.store.Create(ctx, record.TokenHash, stores.ResetTokenRecord{
		UserID:    record.UserID,
		IssuedAt:  record.IssuedAt,
		ExpiresAt: record.ExpiresAt,
	})
	return mapResetStoreError(err)
}

func (s *redisResetTokenStore) InvalidateOutstandingTokens(ctx context.Context, userID string) (int, error) {
	n, err := s.store.InvalidateOutstanding(ctx, userID)
	return n, mapResetStoreError(err)
}

func (s *redisResetTokenStore) ConsumeToken(ctx context.Context, tokenHash [32]byte, now time.Time) (string, error) {
	userID, err := s.store.Consume(ctx, tokenHash, now)
	return userID, mapResetStoreError(err)
}

// DeleteExpiredTokens is a no-op: Redis expires records on its own once
// their retention has passed.
func (s *redisResetTokenStore) DeleteExpiredTokens(context.Context, time.Time) (int, error) {
	return 0, nil
}

func mapResetStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrResetTokenNotFound):
		return ErrTokenNotFound
	case errors.Is(err, stores.ErrResetTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, stores.ErrResetTokenConsumed):
		return ErrTokenAlreadyConsumed
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
