package postgres

import (
	"context"
	"database/sql"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// CreateResetToken locks the user row, drops every unconsumed token of the
// user and inserts the new record in one transaction.
func (s *Store) CreateResetToken(ctx context.Context, record goIdentity.ResetTokenRecord) error {
	return s.withTx(ctx, func(ctx context.Context, tx DBTX) error {
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, record.UserID).Scan(&id)
		if err != nil {
			return mapError(err, goIdentity.ErrUserNotFound)
		}
		if _, err := invalidate(ctx, tx, record.UserID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reset_tokens (token_hash, user_id, issued_at, expires_at)
			VALUES ($1, $2, $3, $4)`,
			record.TokenHash[:], record.UserID, record.IssuedAt.UTC(), record.ExpiresAt.UTC())
		return mapError(err, goIdentity.ErrUserNotFound)
	})
}

// InvalidateOutstandingTokens deletes every unconsumed token of userID.
// Consumed rows stay until the sweeper removes them.
func (s *Store) InvalidateOutstandingTokens(ctx context.Context, userID string) (int, error) {
	return invalidate(ctx, s.db, userID)
}

func invalidate(ctx context.Context, db DBTX, userID string) (int, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM reset_tokens WHERE user_id = $1 AND consumed_at IS NULL`, userID)
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// ConsumeToken locks the token row and marks it consumed. Concurrent
// callers for the same hash queue on the row lock and all but the first
// observe consumed_at.
func (s *Store) ConsumeToken(ctx context.Context, tokenHash [32]byte, now time.Time) (string, error) {
	var userID string
	err := s.withTx(ctx, func(ctx context.Context, tx DBTX) error {
		var (
			expiresAt  time.Time
			consumedAt sql.NullTime
		)
		err := tx.QueryRowContext(ctx, `
			SELECT user_id, expires_at, consumed_at FROM reset_tokens
			WHERE token_hash = $1 FOR UPDATE`, tokenHash[:]).Scan(&userID, &expiresAt, &consumedAt)
		if err != nil {
			return mapError(err, goIdentity.ErrTokenNotFound)
		}
		switch {
		case consumedAt.Valid:
			return goIdentity.ErrTokenAlreadyConsumed
		case !now.Before(expiresAt):
			return goIdentity.ErrTokenExpired
		}
		_, err = tx.ExecContext(ctx, `UPDATE reset_tokens SET consumed_at = $2 WHERE token_hash = $1`,
			tokenHash[:], now.UTC())
		if err != nil {
			return unavailable(err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

// DeleteExpiredTokens removes tokens that expired or were consumed before
// the cutoff.
func (s *Store) DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM reset_tokens
		WHERE expires_at < $1 OR (consumed_at IS NOT NULL AND consumed_at < $1)`, before.UTC())
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}
