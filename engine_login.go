package goIdentity

import (
	"context"
	"errors"
	"fmt"

	internalflows "github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/rate"
)

// LoginWithPassword authenticates a local user and creates a session.
// Unknown users, wrong passwords and inactive users are indistinguishable
// ErrInvalidCredentials; repeated failures yield ErrThrottled.
func (e *Engine) LoginWithPassword(ctx context.Context, email, password string) (LoginResult, error) {
	if !e.ready() {
		return LoginResult{}, ErrEngineNotReady
	}

	user, err := internalflows.RunPasswordLogin(ctx, email, password, e.passwordLoginDeps())
	if err != nil {
		return LoginResult{}, err
	}

	info, err := e.CreateSession(ctx, user.ID, Role(user.Role))
	if err != nil {
		return LoginResult{}, err
	}
	out := fromLoginUser(user)
	out.PasswordHash = ""
	return LoginResult{Session: info, User: out}, nil
}

func (e *Engine) passwordLoginDeps() internalflows.PasswordLoginDeps {
	return internalflows.PasswordLoginDeps{
		UpgradeOnLogin:      e.config.Password.UpgradeOnLogin,
		Logger:              e.logger,
		Now:                 e.now,
		ClientIPFromContext: clientIPFromContext,
		CheckLoginRate:      e.loginLimiter.CheckLogin,
		IncrementLoginRate:  e.loginLimiter.IncrementLogin,
		ResetLoginRate:      e.loginLimiter.ResetLogin,
		MapLimiterError:     mapLoginLimiterError,
		FindUserByEmail: func(ctx context.Context, email string) (internalflows.LoginUser, error) {
			u, err := e.users.FindUserByEmail(ctx, email)
			return toLoginUser(u), err
		},
		UpdatePasswordHash: e.users.UpdatePasswordHash,
		TouchLastLogin:     e.users.TouchLastLogin,
		IsUserNotFound: func(err error) bool {
			return errors.Is(err, ErrUserNotFound)
		},
		MapStoreError:        mapStoreError,
		VerifyPassword:       e.passwords.Verify,
		VerifyDummy:          e.passwords.VerifyDummy,
		PasswordNeedsUpgrade: e.passwords.NeedsUpgrade,
		HashPassword:         e.passwords.Hash,
		MetricInc:            func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit:            e.flowAudit,
		Metrics: internalflows.PasswordLoginMetrics{
			Success:     int(MetricPasswordLoginSuccess),
			Failure:     int(MetricPasswordLoginFailure),
			RateLimited: int(MetricLoginRateLimited),
		},
		Events: internalflows.PasswordLoginEvents{
			Login:       auditEventPasswordLogin,
			RateLimited: auditEventLoginRateLimited,
		},
		Errors: internalflows.PasswordLoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			Throttled:          ErrThrottled,
		},
	}
}

func mapLoginLimiterError(err error) error {
	switch {
	case errors.Is(err, rate.ErrRateLimited):
		return ErrThrottled
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
