package memory

import (
	"context"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// CreateResetToken drops every unconsumed token of the user and stores the
// new record under one lock hold.
func (s *Store) CreateResetToken(ctx context.Context, record goIdentity.ResetTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[record.UserID]; !ok {
		return goIdentity.ErrUserNotFound
	}
	if _, ok := s.tokens[record.TokenHash]; ok {
		return goIdentity.ErrUserExists
	}
	s.invalidateLocked(record.UserID)

	record.ConsumedAt = time.Time{}
	s.tokens[record.TokenHash] = record
	set := s.userTokens[record.UserID]
	if set == nil {
		set = make(map[[32]byte]struct{})
		s.userTokens[record.UserID] = set
	}
	set[record.TokenHash] = struct{}{}
	return nil
}

// InvalidateOutstandingTokens removes every unconsumed token of userID.
// Consumed records are kept so replays still report consumption.
func (s *Store) InvalidateOutstandingTokens(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidateLocked(userID), nil
}

func (s *Store) invalidateLocked(userID string) int {
	n := 0
	for hash := range s.userTokens[userID] {
		rec := s.tokens[hash]
		if !rec.ConsumedAt.IsZero() {
			continue
		}
		delete(s.tokens, hash)
		delete(s.userTokens[userID], hash)
		n++
	}
	return n
}

// ConsumeToken marks the token consumed. Exactly one of any number of
// concurrent callers for the same hash succeeds.
func (s *Store) ConsumeToken(ctx context.Context, tokenHash [32]byte, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[tokenHash]
	switch {
	case !ok:
		return "", goIdentity.ErrTokenNotFound
	case !rec.ConsumedAt.IsZero():
		return "", goIdentity.ErrTokenAlreadyConsumed
	case !now.Before(rec.ExpiresAt):
		return "", goIdentity.ErrTokenExpired
	}
	rec.ConsumedAt = now
	s.tokens[tokenHash] = rec
	return rec.UserID, nil
}

// DeleteExpiredTokens removes records that expired, or were consumed,
// before the cutoff.
func (s *Store) DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for hash, rec := range s.tokens {
		expired := rec.ExpiresAt.Before(before)
		consumed := !rec.ConsumedAt.IsZero() && rec.ConsumedAt.Before(before)
		if !expired && !consumed {
			continue
		}
		delete(s.tokens, hash)
		if set := s.userTokens[rec.UserID]; set != nil {
			delete(set, hash)
			if len(set) == 0 {
				delete(s.userTokens, rec.UserID)
			}
		}
		n++
	}
	return n, nil
}
