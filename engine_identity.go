package goIdentity

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/identity"
	internalflows "github.com/MrEthical07/goIdentity/internal/flows"
)

// VerifyIdentity verifies assertion against the configured audience and
// issuers. It touches no store. Failures are ErrInvalidAssertion, or
// ErrStoreUnavailable when signing keys could not be fetched.
func (e *Engine) VerifyIdentity(ctx context.Context, assertion string) (VerifiedIdentity, error) {
	if e == nil || e.verifier == nil {
		return VerifiedIdentity{}, ErrIdentityDisabled
	}
	id, err := e.verifier.Verify(ctx, assertion, e.config.Identity.Audience)
	if err != nil {
		return VerifiedIdentity{}, mapVerifyError(err)
	}
	return id, nil
}

// LoginWithAssertion turns a verified assertion into a session. The user is
// found by external subject, then by verified email (linking the subject),
// and otherwise provisioned with the default role when allowed. A rejected
// assertion creates or modifies nothing.
func (e *Engine) LoginWithAssertion(ctx context.Context, assertion string) (LoginResult, error) {
	if e == nil || e.verifier == nil {
		return LoginResult{}, ErrIdentityDisabled
	}
	if !e.ready() {
		return LoginResult{}, ErrEngineNotReady
	}

	user, provisioned, err := internalflows.RunAssertionLogin(ctx, assertion, e.assertionLoginDeps())
	if err != nil {
		return LoginResult{}, err
	}

	info, err := e.CreateSession(ctx, user.ID, Role(user.Role))
	if err != nil {
		return LoginResult{}, err
	}
	stored, err := e.users.FindUserByID(ctx, user.ID)
	if err != nil {
		stored = fromLoginUser(user)
	}
	stored.PasswordHash = ""
	return LoginResult{Session: info, User: stored, Provisioned: provisioned}, nil
}

func (e *Engine) assertionLoginDeps() internalflows.AssertionLoginDeps {
	cfg := e.config.Identity
	return internalflows.AssertionLoginDeps{
		AutoProvision:  cfg.AutoProvision,
		DefaultRole:    uint8(cfg.DefaultRole),
		AllowedDomains: cfg.AllowedDomains,
		Logger:         e.logger,
		Now:            e.now,
		Verify: func(ctx context.Context, assertion string) (internalflows.AssertionIdentity, error) {
			id, err := e.VerifyIdentity(ctx, assertion)
			if err != nil {
				return internalflows.AssertionIdentity{}, err
			}
			return internalflows.AssertionIdentity{
				Subject:       id.Subject,
				Email:         id.Email,
				EmailVerified: id.EmailVerified,
				Name:          id.Name,
			}, nil
		},
		FindUserByExternalSubject: func(ctx context.Context, subject string) (internalflows.LoginUser, error) {
			u, err := e.users.FindUserByExternalSubject(ctx, subject)
			return toLoginUser(u), err
		},
		FindUserByEmail: func(ctx context.Context, email string) (internalflows.LoginUser, error) {
			u, err := e.users.FindUserByEmail(ctx, email)
			return toLoginUser(u), err
		},
		CreateUser: func(ctx context.Context, lu internalflows.LoginUser) (internalflows.LoginUser, error) {
			u := fromLoginUser(lu)
			u.CreatedAt = e.now().UTC()
			u.UpdatedAt = u.CreatedAt
			created, err := e.users.CreateUser(ctx, u)
			return toLoginUser(created), err
		},
		LinkExternalSubject: e.users.LinkExternalSubject,
		TouchLastLogin:      e.users.TouchLastLogin,
		IsUserNotFound: func(err error) bool {
			return errors.Is(err, ErrUserNotFound)
		},
		IsUserExists: func(err error) bool {
			return errors.Is(err, ErrUserExists)
		},
		MapStoreError: mapStoreError,
		MetricInc:     func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit:     e.flowAudit,
		Metrics: internalflows.AssertionLoginMetrics{
			Success:     int(MetricAssertionLoginSuccess),
			Failure:     int(MetricAssertionLoginFailure),
			Provisioned: int(MetricUserProvisioned),
		},
		Events: internalflows.AssertionLoginEvents{
			Login:       auditEventAssertionLogin,
			Provisioned: auditEventUserProvisioned,
			Linked:      auditEventSubjectLinked,
		},
		Errors: internalflows.AssertionLoginErrors{
			EngineNotReady:   ErrEngineNotReady,
			Rejected:         ErrAssertionRejected,
			StoreUnavailable: ErrStoreUnavailable,
		},
	}
}

func mapVerifyError(err error) error {
	switch {
	case errors.Is(err, identity.ErrKeysUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidAssertion, err)
	}
}

func toLoginUser(u User) internalflows.LoginUser {
	return internalflows.LoginUser{
		ID:              u.ID,
		Email:           u.Email,
		DisplayName:     u.DisplayName,
		Role:            uint8(u.Role),
		Active:          u.Active,
		PasswordHash:    u.PasswordHash,
		ExternalSubject: u.ExternalSubject,
	}
}

func fromLoginUser(u internalflows.LoginUser) User {
	return User{
		ID:              u.ID,
		Email:           u.Email,
		DisplayName:     u.DisplayName,
		Role:            Role(u.Role),
		Active:          u.Active,
		PasswordHash:    u.PasswordHash,
		ExternalSubject: u.ExternalSubject,
	}
}
