package goIdentity

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/goIdentity/identity"
	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
)

// User is the stored account record. PasswordHash is empty for users that
// only sign in through an identity provider.
type User struct {
	ID              string
	Email           string
	DisplayName     string
	Role            Role
	SupervisorID    string
	Active          bool
	PasswordHash    string
	ExternalSubject string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastLoginAt     time.Time
}

// RoleFields is the mutable authorization state of a user.
type RoleFields struct {
	Role         Role
	SupervisorID string
	Active       bool
}

// ResetTokenRecord is the persisted state of one reset token. Only the
// sha256 of the token is stored.
type ResetTokenRecord struct {
	TokenHash  [32]byte
	UserID     string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt time.Time
}

// UserStore persists users. Lookups report ErrUserNotFound; infrastructure
// failures wrap ErrStoreUnavailable.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByExternalSubject(ctx context.Context, subject string) (User, error)
	FindUserByID(ctx context.Context, userID string) (User, error)
	// CreateUser assigns an id when user.ID is empty and returns the stored
	// record. Duplicate email or subject yields ErrUserExists.
	CreateUser(ctx context.Context, user User) (User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	UpdateRoleFields(ctx context.Context, userID string, fields RoleFields) error
	LinkExternalSubject(ctx context.Context, userID, subject string) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	DeleteUser(ctx context.Context, userID string) error
	// ListUsersBySupervisor returns the users whose SupervisorID is
	// supervisorID, in any order.
	ListUsersBySupervisor(ctx context.Context, supervisorID string) ([]User, error)
}

// ResetTokenStore persists reset tokens. Implementations keep at most one
// usable token per user and make ConsumeToken an atomic check-and-set.
type ResetTokenStore interface {
	// CreateResetToken invalidates every outstanding token of the record's
	// user and inserts the new one in the same atomic step.
	CreateResetToken(ctx context.Context, record ResetTokenRecord) error
	InvalidateOutstandingTokens(ctx context.Context, userID string) (int, error)
	// ConsumeToken marks the token used and returns its user id, or one of
	// ErrTokenNotFound, ErrTokenExpired, ErrTokenAlreadyConsumed.
	ConsumeToken(ctx context.Context, tokenHash [32]byte, now time.Time) (string, error)
	// DeleteExpiredTokens removes records that expired or were consumed
	// before the cutoff.
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error)
}

// CredentialStore is the full persistence contract of the engine.
type CredentialStore interface {
	UserStore
	ResetTokenStore
}

// MailMessage is one outbound reset mail. Data carries template fields and
// includes the reset link, so mailers must not log it.
type MailMessage struct {
	To       string
	Name     string
	Template string
	Data     map[string]string
}

// Mailer delivers reset mail.
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

// SessionInfo is the caller-visible view of a live session.
type SessionInfo struct {
	SessionID      string
	UserID         string
	Role           Role
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
}

// LoginResult is returned by assertion and password logins.
type LoginResult struct {
	Session SessionInfo
	User    User
	// Provisioned is true when the login created the user.
	Provisioned bool
}

// VerifiedIdentity is the content of a verified identity assertion.
type VerifiedIdentity = identity.Identity

// AuditEvent is a structured audit record emitted by the engine. It never
// carries tokens, passwords or assertions.
type AuditEvent = internalaudit.Event

// AuditSink receives AuditEvent values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based AuditSink, useful in tests.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON event per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs events through a slog.Logger.
type SlogSink = internalaudit.SlogSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a JSONWriterSink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink returns a SlogSink writing to logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}

func sessionTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
