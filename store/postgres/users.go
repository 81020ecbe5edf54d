package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/google/uuid"
)

const userColumns = `id, email, display_name, role, supervisor_id, active, password_hash, external_subject, created_at, updated_at, last_login_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (goIdentity.User, error) {
	var (
		u          goIdentity.User
		role       int16
		supervisor sql.NullString
		hash       sql.NullString
		subject    sql.NullString
		lastLogin  sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&role,
		&supervisor,
		&u.Active,
		&hash,
		&subject,
		&u.CreatedAt,
		&u.UpdatedAt,
		&lastLogin,
	)
	if err != nil {
		return goIdentity.User{}, err
	}
	u.Role = goIdentity.Role(role)
	u.SupervisorID = supervisor.String
	u.PasswordHash = hash.String
	u.ExternalSubject = subject.String
	if lastLogin.Valid {
		u.LastLoginAt = lastLogin.Time
	}
	return u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) findUser(ctx context.Context, where string, arg any) (goIdentity.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if err != nil {
		return goIdentity.User{}, mapError(err, goIdentity.ErrUserNotFound)
	}
	return u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (goIdentity.User, error) {
	return s.findUser(ctx, `lower(email) = $1`, normalizeEmail(email))
}

func (s *Store) FindUserByExternalSubject(ctx context.Context, subject string) (goIdentity.User, error) {
	if subject == "" {
		return goIdentity.User{}, goIdentity.ErrUserNotFound
	}
	return s.findUser(ctx, `external_subject = $1`, subject)
}

func (s *Store) FindUserByID(ctx context.Context, userID string) (goIdentity.User, error) {
	return s.findUser(ctx, `id = $1`, userID)
}

// CreateUser inserts user, assigning a UUID when ID is empty. Unique
// violations on id, email or subject report ErrUserExists.
func (s *Store) CreateUser(ctx context.Context, user goIdentity.User) (goIdentity.User, error) {
	user.Email = normalizeEmail(user.Email)
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, role, supervisor_id, active, password_hash, external_subject, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID,
		user.Email,
		user.DisplayName,
		int16(user.Role),
		nullString(user.SupervisorID),
		user.Active,
		nullString(user.PasswordHash),
		nullString(user.ExternalSubject),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return goIdentity.User{}, mapError(err, goIdentity.ErrUserNotFound)
	}
	return user, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.execUser(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		userID, nullString(hash))
}

func (s *Store) UpdateRoleFields(ctx context.Context, userID string, fields goIdentity.RoleFields) error {
	return s.execUser(ctx, `UPDATE users SET role = $2, supervisor_id = $3, active = $4, updated_at = now() WHERE id = $1`,
		userID, int16(fields.Role), nullString(fields.SupervisorID), fields.Active)
}

// LinkExternalSubject binds subject to userID. A user already bound to a
// different subject is left untouched and reports ErrUserExists, as does a
// subject owned by someone else.
func (s *Store) LinkExternalSubject(ctx context.Context, userID, subject string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET external_subject = $2, updated_at = now()
		WHERE id = $1 AND (external_subject IS NULL OR external_subject = $2)`,
		userID, subject)
	if err != nil {
		return mapError(err, goIdentity.ErrUserNotFound)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 1 {
		return nil
	}
	// Nothing matched: either the user is gone or bound elsewhere.
	if _, err := s.FindUserByID(ctx, userID); err != nil {
		return err
	}
	return goIdentity.ErrUserExists
}

func (s *Store) ListUsersBySupervisor(ctx context.Context, supervisorID string) ([]goIdentity.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE supervisor_id = $1 ORDER BY email`, supervisorID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []goIdentity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.execUser(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, userID, at.UTC())
}

// DeleteUser removes the user. Reset tokens go with it through the
// foreign key cascade.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.execUser(ctx, `DELETE FROM users WHERE id = $1`, userID)
}

// execUser runs a single-row statement keyed by user id and reports
// ErrUserNotFound when no row matched.
func (s *Store) execUser(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err, goIdentity.ErrUserNotFound)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return goIdentity.ErrUserNotFound
	}
	return nil
}
