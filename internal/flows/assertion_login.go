package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// LoginUser is the flow-local user model for assertion and password logins.
type LoginUser struct {
	ID              string
	Email           string
	DisplayName     string
	Role            uint8
	Active          bool
	PasswordHash    string
	ExternalSubject string
}

// AssertionIdentity is the flow-local view of a verified assertion.
type AssertionIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// AssertionLoginMetrics carries metric IDs used by the assertion login flow.
type AssertionLoginMetrics struct {
	Success     int
	Failure     int
	Provisioned int
}

// AssertionLoginEvents carries audit event names.
type AssertionLoginEvents struct {
	Login       string
	Provisioned string
	Linked      string
}

// AssertionLoginErrors carries host-level sentinel errors. Rejected covers
// every verified assertion that maps to no eligible account.
type AssertionLoginErrors struct {
	EngineNotReady   error
	Rejected         error
	StoreUnavailable error
}

// Rejection reasons. They reach logs and audit metadata, never the caller's
// public message.
const (
	RejectNoEmail          = "no_email"
	RejectSubjectMismatch  = "subject_mismatch"
	RejectEmailUnverified  = "email_unverified"
	RejectProvisioningOff  = "provisioning_disabled"
	RejectDomainNotAllowed = "domain_not_allowed"
	RejectInactive         = "inactive"
	RejectContention       = "contention"
)

type rejection struct {
	reason string
	err    error
}

func (r *rejection) Error() string { return fmt.Sprintf("%v: %s", r.err, r.reason) }

func (r *rejection) Unwrap() error { return r.err }

func reject(deps *AssertionLoginDeps, reason string) error {
	return &rejection{reason: reason, err: deps.Errors.Rejected}
}

// RejectionReason extracts the reason from an assertion rejection.
func RejectionReason(err error) string {
	var r *rejection
	if errors.As(err, &r) {
		return r.reason
	}
	return ""
}

// AssertionLoginDeps captures find-or-create dependencies.
type AssertionLoginDeps struct {
	AutoProvision  bool
	DefaultRole    uint8
	AllowedDomains []string

	Logger *slog.Logger
	Now    func() time.Time

	Verify func(ctx context.Context, assertion string) (AssertionIdentity, error)

	FindUserByExternalSubject func(ctx context.Context, subject string) (LoginUser, error)
	FindUserByEmail           func(ctx context.Context, email string) (LoginUser, error)
	CreateUser                func(ctx context.Context, user LoginUser) (LoginUser, error)
	LinkExternalSubject       func(ctx context.Context, userID, subject string) error
	TouchLastLogin            func(ctx context.Context, userID string, at time.Time) error
	IsUserNotFound            func(error) bool
	IsUserExists              func(error) bool
	MapStoreError             func(error) error

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics AssertionLoginMetrics
	Events  AssertionLoginEvents
	Errors  AssertionLoginErrors
}

// RunAssertionLogin verifies assertion and resolves it to an active local
// user, linking or provisioning as configured. It reports whether the user
// was created by this call. A rejected assertion creates or modifies
// nothing.
func RunAssertionLogin(ctx context.Context, assertion string, deps AssertionLoginDeps) (LoginUser, bool, error) {
	normalizeAssertionDeps(&deps)
	if deps.Verify == nil || deps.FindUserByExternalSubject == nil || deps.FindUserByEmail == nil ||
		deps.CreateUser == nil || deps.LinkExternalSubject == nil {
		return LoginUser{}, false, deps.Errors.EngineNotReady
	}

	id, err := deps.Verify(ctx, assertion)
	if err != nil {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Login, false, "", "", err, nil)
		return LoginUser{}, false, err
	}

	user, provisioned, err := resolveAssertionUser(ctx, id, &deps)
	if err == nil && !user.Active {
		err = reject(&deps, RejectInactive)
	}
	if err != nil {
		deps.MetricInc(deps.Metrics.Failure)
		var metadata func() map[string]string
		if reason := RejectionReason(err); reason != "" {
			deps.Logger.InfoContext(ctx, "assertion login rejected",
				slog.String("reason", reason),
				slog.String("user_id", user.ID),
			)
			metadata = func() map[string]string { return map[string]string{"reason": reason} }
		}
		deps.EmitAudit(ctx, deps.Events.Login, false, user.ID, "", err, metadata)
		return LoginUser{}, false, err
	}

	if deps.TouchLastLogin != nil {
		if err := deps.TouchLastLogin(ctx, user.ID, deps.Now()); err != nil {
			deps.Logger.WarnContext(ctx, "touch last login failed", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Login, true, user.ID, "", nil, nil)
	return user, provisioned, nil
}

func resolveAssertionUser(ctx context.Context, id AssertionIdentity, deps *AssertionLoginDeps) (LoginUser, bool, error) {
	// Two passes: the second absorbs a concurrent first login that created
	// the same user between our lookup and insert.
	for attempt := 0; attempt < 2; attempt++ {
		user, err := deps.FindUserByExternalSubject(ctx, id.Subject)
		if err == nil {
			return user, false, nil
		}
		if !deps.IsUserNotFound(err) {
			return LoginUser{}, false, deps.MapStoreError(err)
		}

		email := NormalizeEmail(id.Email)
		if email == "" {
			return LoginUser{}, false, reject(deps, RejectNoEmail)
		}

		user, err = deps.FindUserByEmail(ctx, email)
		switch {
		case err == nil:
			if user.ExternalSubject != "" && user.ExternalSubject != id.Subject {
				return user, false, reject(deps, RejectSubjectMismatch)
			}
			if !id.EmailVerified {
				return user, false, reject(deps, RejectEmailUnverified)
			}
			if !user.Active {
				return user, false, reject(deps, RejectInactive)
			}
			if err := deps.LinkExternalSubject(ctx, user.ID, id.Subject); err != nil {
				if deps.IsUserExists(err) {
					continue
				}
				return LoginUser{}, false, deps.MapStoreError(err)
			}
			user.ExternalSubject = id.Subject
			deps.EmitAudit(ctx, deps.Events.Linked, true, user.ID, "", nil, nil)
			return user, false, nil
		case !deps.IsUserNotFound(err):
			return LoginUser{}, false, deps.MapStoreError(err)
		}

		switch {
		case !deps.AutoProvision:
			return LoginUser{}, false, reject(deps, RejectProvisioningOff)
		case !id.EmailVerified:
			return LoginUser{}, false, reject(deps, RejectEmailUnverified)
		case !domainAllowed(email, deps.AllowedDomains):
			return LoginUser{}, false, reject(deps, RejectDomainNotAllowed)
		}

		created, err := deps.CreateUser(ctx, LoginUser{
			Email:           email,
			DisplayName:     id.Name,
			Role:            deps.DefaultRole,
			Active:          true,
			ExternalSubject: id.Subject,
		})
		if err != nil {
			if deps.IsUserExists(err) {
				continue
			}
			return LoginUser{}, false, deps.MapStoreError(err)
		}
		deps.MetricInc(deps.Metrics.Provisioned)
		deps.EmitAudit(ctx, deps.Events.Provisioned, true, created.ID, "", nil, nil)
		return created, true, nil
	}
	return LoginUser{}, false, reject(deps, RejectContention)
}

func domainAllowed(email string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	domain := email[at+1:]
	for _, d := range allowed {
		if strings.EqualFold(domain, strings.TrimSpace(d)) {
			return true
		}
	}
	return false
}

func normalizeAssertionDeps(deps *AssertionLoginDeps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsUserNotFound == nil {
		deps.IsUserNotFound = func(error) bool { return false }
	}
	if deps.IsUserExists == nil {
		deps.IsUserExists = func(error) bool { return false }
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(err error) error { return err }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Errors.EngineNotReady == nil {
		deps.Errors.EngineNotReady = errors.New("engine not initialized")
	}
	if deps.Errors.Rejected == nil {
		deps.Errors.Rejected = errors.New("assertion rejected")
	}
}
