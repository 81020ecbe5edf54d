package flows

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// PasswordLoginMetrics carries metric IDs used by the password login flow.
type PasswordLoginMetrics struct {
	Success     int
	Failure     int
	RateLimited int
}

// PasswordLoginEvents carries audit event names.
type PasswordLoginEvents struct {
	Login       string
	RateLimited string
}

// PasswordLoginErrors carries host-level sentinel errors.
type PasswordLoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	Throttled          error
}

// PasswordLoginDeps captures local login dependencies.
type PasswordLoginDeps struct {
	UpgradeOnLogin bool

	Logger              *slog.Logger
	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string

	CheckLoginRate     func(ctx context.Context, email, ip string) error
	IncrementLoginRate func(ctx context.Context, email, ip string) error
	ResetLoginRate     func(ctx context.Context, email string) error
	MapLimiterError    func(error) error

	FindUserByEmail    func(ctx context.Context, email string) (LoginUser, error)
	UpdatePasswordHash func(ctx context.Context, userID, hash string) error
	TouchLastLogin     func(ctx context.Context, userID string, at time.Time) error
	IsUserNotFound     func(error) bool
	MapStoreError      func(error) error

	VerifyPassword       func(password, hash string) (bool, error)
	VerifyDummy          func(password string)
	PasswordNeedsUpgrade func(hash string) (bool, error)
	HashPassword         func(string) (string, error)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics PasswordLoginMetrics
	Events  PasswordLoginEvents
	Errors  PasswordLoginErrors
}

// RunPasswordLogin authenticates email and password. Unknown users,
// passwordless users and inactive users all cost one hash verification and
// yield InvalidCredentials.
func RunPasswordLogin(ctx context.Context, email, password string, deps PasswordLoginDeps) (LoginUser, error) {
	normalizePasswordLoginDeps(&deps)
	if deps.CheckLoginRate == nil || deps.FindUserByEmail == nil || deps.VerifyPassword == nil || deps.VerifyDummy == nil {
		return LoginUser{}, deps.Errors.EngineNotReady
	}

	email = NormalizeEmail(email)
	ip := deps.ClientIPFromContext(ctx)

	if err := deps.CheckLoginRate(ctx, email, ip); err != nil {
		mapped := deps.MapLimiterError(err)
		if errors.Is(mapped, deps.Errors.Throttled) {
			deps.MetricInc(deps.Metrics.RateLimited)
			deps.EmitAudit(ctx, deps.Events.RateLimited, false, "", "", mapped, nil)
		}
		return LoginUser{}, mapped
	}

	fail := func(userID, reason string) (LoginUser, error) {
		if deps.IncrementLoginRate != nil {
			if err := deps.IncrementLoginRate(ctx, email, ip); err != nil {
				deps.Logger.WarnContext(ctx, "login limiter increment failed", slog.Any("error", err))
			}
		}
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Login, false, userID, "", deps.Errors.InvalidCredentials, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return LoginUser{}, deps.Errors.InvalidCredentials
	}

	if email == "" || password == "" {
		deps.VerifyDummy(password)
		return fail("", "empty_input")
	}

	user, err := deps.FindUserByEmail(ctx, email)
	if err != nil {
		if deps.IsUserNotFound(err) {
			deps.VerifyDummy(password)
			return fail("", "unknown_user")
		}
		return LoginUser{}, deps.MapStoreError(err)
	}
	if user.PasswordHash == "" {
		deps.VerifyDummy(password)
		return fail(user.ID, "no_password")
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		deps.Logger.WarnContext(ctx, "stored password hash unreadable", slog.String("user_id", user.ID), slog.Any("error", err))
		return fail(user.ID, "bad_hash")
	}
	if !ok {
		return fail(user.ID, "wrong_password")
	}
	if !user.Active {
		return fail(user.ID, "inactive")
	}

	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, email); err != nil {
			deps.Logger.WarnContext(ctx, "login limiter reset failed", slog.Any("error", err))
		}
	}

	if deps.UpgradeOnLogin && deps.PasswordNeedsUpgrade != nil && deps.HashPassword != nil && deps.UpdatePasswordHash != nil {
		if upgrade, err := deps.PasswordNeedsUpgrade(user.PasswordHash); err == nil && upgrade {
			if hash, err := deps.HashPassword(password); err == nil {
				if err := deps.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
					deps.Logger.WarnContext(ctx, "password rehash failed", slog.String("user_id", user.ID), slog.Any("error", err))
				} else {
					user.PasswordHash = hash
				}
			}
		}
	}

	if deps.TouchLastLogin != nil {
		if err := deps.TouchLastLogin(ctx, user.ID, deps.Now()); err != nil {
			deps.Logger.WarnContext(ctx, "touch last login failed", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Login, true, user.ID, "", nil, nil)
	return user, nil
}

func normalizePasswordLoginDeps(deps *PasswordLoginDeps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.MapLimiterError == nil {
		deps.MapLimiterError = func(err error) error { return err }
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(err error) error { return err }
	}
	if deps.IsUserNotFound == nil {
		deps.IsUserNotFound = func(error) bool { return false }
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
	if deps.Errors.InvalidCredentials == nil {
		deps.Errors.InvalidCredentials = errors.New("invalid credentials")
	}
}
