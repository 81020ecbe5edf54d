package flows

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// ResetUser is the flow-local view of a user for reset flows.
type ResetUser struct {
	ID          string
	Email       string
	DisplayName string
	Active      bool
}

// ResetMetrics carries metric IDs used by reset flows.
type ResetMetrics struct {
	Request          int
	TokenIssued      int
	RateLimited      int
	RedeemSuccess    int
	RedeemFailure    int
	AdminForcedReset int
	MailDropped      int
	// RedeemRejected maps a token rejection reason to its counter.
	RedeemRejected map[string]int
}

// ResetEvents carries audit event names used by reset flows.
type ResetEvents struct {
	Request          string
	TokenIssued      string
	Redeem           string
	AdminForcedReset string
	DeliveryFailed   string
}

// ResetErrors carries host-level sentinel errors used by reset flows.
type ResetErrors struct {
	EngineNotReady            error
	Throttled                 error
	StoreUnavailable          error
	TokenFault                error
	PasswordRequired          error
	Unauthorized              error
	UserNotFound              error
	SessionInvalidationFailed error
	DeliveryFailed            error
}

// ResetDeps captures reset request, redemption and admin-forced reset
// dependencies.
type ResetDeps struct {
	TokenTTL         time.Duration
	MinResponseTime  time.Duration
	Jitter           time.Duration
	OperationTimeout time.Duration
	SyncDelivery     bool
	DeliveryTimeout  time.Duration

	Logger              *slog.Logger
	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string
	RandomDuration      func(time.Duration) time.Duration

	CheckRequestLimiter func(ctx context.Context, email, ip string) error
	CheckRedeemLimiter  func(ctx context.Context, ip string) error
	MapLimiterError     func(error) error

	FindUserByEmail func(ctx context.Context, email string) (ResetUser, error)
	FindUserByID    func(ctx context.Context, userID string) (ResetUser, error)
	IsUserNotFound  func(error) bool
	MapStoreError   func(error) error

	NewResetToken               func() (string, [32]byte, error)
	ParseResetToken             func(string) ([32]byte, error)
	CreateResetToken            func(ctx context.Context, tokenHash [32]byte, userID string, issuedAt, expiresAt time.Time) error
	InvalidateOutstandingTokens func(ctx context.Context, userID string) (int, error)
	ConsumeToken                func(ctx context.Context, tokenHash [32]byte, now time.Time) (string, error)
	// ClassifyTokenError maps a ConsumeToken failure to the returned error
	// and a reason code recorded only in logs and audit.
	ClassifyTokenError func(error) (error, string)

	HashPassword         func(string) (string, error)
	NewTemporaryPassword func() (string, error)
	UpdatePasswordHash   func(ctx context.Context, userID, hash string) error
	DestroyAllForUser    func(ctx context.Context, userID string) (int, error)
	AuthorizeAdmin       func(ctx context.Context, sessionID string) (string, error)

	// SendResetMail delivers inline. EnqueueResetMail hands off to the
	// async worker pool and only reports queue admission.
	SendResetMail    func(ctx context.Context, user ResetUser, token string) error
	EnqueueResetMail func(user ResetUser, token string) error

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics ResetMetrics
	Events  ResetEvents
	Errors  ResetErrors
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RunRequestReset issues a reset token when email belongs to an active user
// and reports generic success either way. Every outcome past the readiness
// check is padded to the configured minimum response time plus jitter.
func RunRequestReset(ctx context.Context, email string, deps ResetDeps) error {
	normalizeResetDeps(&deps)
	if deps.CheckRequestLimiter == nil || deps.FindUserByEmail == nil || deps.NewResetToken == nil ||
		deps.CreateResetToken == nil || (deps.SyncDelivery && deps.SendResetMail == nil) ||
		(!deps.SyncDelivery && deps.EnqueueResetMail == nil) {
		return deps.Errors.EngineNotReady
	}

	deadline := deps.Now().Add(deps.MinResponseTime + deps.RandomDuration(deps.Jitter))
	err := requestReset(ctx, NormalizeEmail(email), deps)
	if waitErr := waitUntil(ctx, deadline, deps.Now); waitErr != nil {
		return waitErr
	}
	return err
}

func requestReset(ctx context.Context, email string, deps ResetDeps) error {
	deps.MetricInc(deps.Metrics.Request)
	ip := deps.ClientIPFromContext(ctx)

	if email == "" {
		deps.EmitAudit(ctx, deps.Events.Request, false, "", "", nil, func() map[string]string {
			return map[string]string{"reason": "empty_email"}
		})
		return nil
	}

	if err := deps.CheckRequestLimiter(ctx, email, ip); err != nil {
		mapped := deps.MapLimiterError(err)
		if errors.Is(mapped, deps.Errors.Throttled) {
			deps.MetricInc(deps.Metrics.RateLimited)
			deps.EmitAudit(ctx, deps.Events.Request, false, "", "", mapped, func() map[string]string {
				return map[string]string{"reason": "rate_limited"}
			})
		}
		return mapped
	}

	findCtx, cancelFind := bounded(ctx, deps.OperationTimeout)
	user, err := deps.FindUserByEmail(findCtx, email)
	cancelFind()
	if err != nil {
		if deps.IsUserNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.Request, true, "", "", nil, func() map[string]string {
				return map[string]string{"outcome": "no_account"}
			})
			return nil
		}
		deps.Logger.ErrorContext(ctx, "reset request user lookup failed", slog.Any("error", err))
		return deps.MapStoreError(err)
	}
	if !user.Active {
		deps.EmitAudit(ctx, deps.Events.Request, true, user.ID, "", nil, func() map[string]string {
			return map[string]string{"outcome": "inactive"}
		})
		return nil
	}

	token, hash, err := deps.NewResetToken()
	if err != nil {
		deps.Logger.ErrorContext(ctx, "reset token generation failed", slog.Any("error", err))
		return deps.Errors.StoreUnavailable
	}
	now := deps.Now()
	createCtx, cancelCreate := bounded(ctx, deps.OperationTimeout)
	err = deps.CreateResetToken(createCtx, hash, user.ID, now, now.Add(deps.TokenTTL))
	cancelCreate()
	if err != nil {
		deps.Logger.ErrorContext(ctx, "reset token persist failed", slog.String("user_id", user.ID), slog.Any("error", err))
		return deps.MapStoreError(err)
	}
	deps.MetricInc(deps.Metrics.TokenIssued)
	deps.EmitAudit(ctx, deps.Events.TokenIssued, true, user.ID, "", nil, nil)

	if deps.SyncDelivery {
		sendCtx, cancel := detached(ctx, deps.DeliveryTimeout)
		defer cancel()
		if err := deps.SendResetMail(sendCtx, user, token); err != nil {
			deps.Logger.WarnContext(ctx, "reset mail delivery failed", slog.String("user_id", user.ID), slog.Any("error", err))
			deps.EmitAudit(ctx, deps.Events.DeliveryFailed, false, user.ID, "", deps.Errors.DeliveryFailed, nil)
			return deps.Errors.DeliveryFailed
		}
		return nil
	}

	if err := deps.EnqueueResetMail(user, token); err != nil {
		deps.MetricInc(deps.Metrics.MailDropped)
		deps.Logger.WarnContext(ctx, "reset mail not queued", slog.String("user_id", user.ID), slog.Any("error", err))
		deps.EmitAudit(ctx, deps.Events.DeliveryFailed, false, user.ID, "", err, func() map[string]string {
			return map[string]string{"reason": "queue_rejected"}
		})
	}
	return nil
}

// RunRedeemReset consumes token and sets newPassword. The password is
// hashed before the token is touched so a rejected request never burns it.
// Consume, update and session destruction run on a context detached from
// the caller with the configured operation timeout.
func RunRedeemReset(ctx context.Context, token, newPassword string, deps ResetDeps) error {
	normalizeResetDeps(&deps)
	if deps.CheckRedeemLimiter == nil || deps.ParseResetToken == nil || deps.ConsumeToken == nil ||
		deps.HashPassword == nil || deps.UpdatePasswordHash == nil || deps.DestroyAllForUser == nil {
		return deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)
	if err := deps.CheckRedeemLimiter(ctx, ip); err != nil {
		mapped := deps.MapLimiterError(err)
		if errors.Is(mapped, deps.Errors.Throttled) {
			deps.MetricInc(deps.Metrics.RateLimited)
			deps.EmitAudit(ctx, deps.Events.Redeem, false, "", "", mapped, func() map[string]string {
				return map[string]string{"reason": "rate_limited"}
			})
		}
		return mapped
	}

	if newPassword == "" {
		deps.MetricInc(deps.Metrics.RedeemFailure)
		return deps.Errors.PasswordRequired
	}
	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		deps.MetricInc(deps.Metrics.RedeemFailure)
		return err
	}

	tokenHash, err := deps.ParseResetToken(token)
	if err != nil {
		deps.MetricInc(deps.Metrics.RedeemFailure)
		countRejection(deps, "malformed")
		deps.EmitAudit(ctx, deps.Events.Redeem, false, "", "", deps.Errors.TokenFault, func() map[string]string {
			return map[string]string{"reason": "malformed"}
		})
		return deps.Errors.TokenFault
	}

	opCtx, cancel := detached(ctx, deps.OperationTimeout)
	defer cancel()

	userID, err := deps.ConsumeToken(opCtx, tokenHash, deps.Now())
	if err != nil {
		mapped, reason := deps.ClassifyTokenError(err)
		deps.MetricInc(deps.Metrics.RedeemFailure)
		countRejection(deps, reason)
		deps.Logger.InfoContext(ctx, "reset redemption rejected", slog.String("reason", reason))
		deps.EmitAudit(ctx, deps.Events.Redeem, false, "", "", mapped, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return mapped
	}

	if err := deps.UpdatePasswordHash(opCtx, userID, hash); err != nil {
		deps.MetricInc(deps.Metrics.RedeemFailure)
		deps.Logger.ErrorContext(ctx, "password update after token consume failed", slog.String("user_id", userID), slog.Any("error", err))
		mapped := deps.MapStoreError(err)
		deps.EmitAudit(ctx, deps.Events.Redeem, false, userID, "", mapped, func() map[string]string {
			return map[string]string{"reason": "update_failed"}
		})
		return mapped
	}

	if _, err := deps.DestroyAllForUser(opCtx, userID); err != nil {
		deps.Logger.ErrorContext(ctx, "session invalidation after reset failed", slog.String("user_id", userID), slog.Any("error", err))
		joined := errors.Join(deps.Errors.SessionInvalidationFailed, err)
		deps.EmitAudit(ctx, deps.Events.Redeem, false, userID, "", joined, func() map[string]string {
			return map[string]string{"reason": "session_invalidation_failed"}
		})
		return joined
	}

	deps.MetricInc(deps.Metrics.RedeemSuccess)
	deps.EmitAudit(ctx, deps.Events.Redeem, true, userID, "", nil, nil)
	return nil
}

// RunAdminForcedReset replaces the target's password with a generated one
// and returns it. The plaintext is never logged or audited.
func RunAdminForcedReset(ctx context.Context, adminSessionID, targetUserID string, deps ResetDeps) (string, error) {
	normalizeResetDeps(&deps)
	if deps.AuthorizeAdmin == nil || deps.FindUserByID == nil || deps.NewTemporaryPassword == nil ||
		deps.HashPassword == nil || deps.InvalidateOutstandingTokens == nil ||
		deps.UpdatePasswordHash == nil || deps.DestroyAllForUser == nil {
		return "", deps.Errors.EngineNotReady
	}

	actorID, err := deps.AuthorizeAdmin(ctx, adminSessionID)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.AdminForcedReset, false, targetUserID, actorID, err, nil)
		return "", err
	}

	findCtx, cancelFind := bounded(ctx, deps.OperationTimeout)
	target, err := deps.FindUserByID(findCtx, targetUserID)
	cancelFind()
	if err != nil {
		if deps.IsUserNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.AdminForcedReset, false, targetUserID, actorID, deps.Errors.UserNotFound, nil)
			return "", deps.Errors.UserNotFound
		}
		return "", deps.MapStoreError(err)
	}

	temporary, err := deps.NewTemporaryPassword()
	if err != nil {
		deps.Logger.ErrorContext(ctx, "temporary password generation failed", slog.Any("error", err))
		return "", deps.Errors.StoreUnavailable
	}
	hash, err := deps.HashPassword(temporary)
	if err != nil {
		return "", err
	}

	opCtx, cancel := detached(ctx, deps.OperationTimeout)
	defer cancel()

	if _, err := deps.InvalidateOutstandingTokens(opCtx, target.ID); err != nil {
		deps.Logger.ErrorContext(ctx, "forced reset token invalidation failed", slog.String("user_id", target.ID), slog.Any("error", err))
		return "", deps.MapStoreError(err)
	}
	if err := deps.UpdatePasswordHash(opCtx, target.ID, hash); err != nil {
		deps.Logger.ErrorContext(ctx, "forced reset password update failed", slog.String("user_id", target.ID), slog.Any("error", err))
		return "", deps.MapStoreError(err)
	}
	if _, err := deps.DestroyAllForUser(opCtx, target.ID); err != nil {
		deps.Logger.ErrorContext(ctx, "forced reset session invalidation failed", slog.String("user_id", target.ID), slog.Any("error", err))
		joined := errors.Join(deps.Errors.SessionInvalidationFailed, err)
		deps.EmitAudit(ctx, deps.Events.AdminForcedReset, false, target.ID, actorID, joined, nil)
		return "", joined
	}

	deps.MetricInc(deps.Metrics.AdminForcedReset)
	deps.EmitAudit(ctx, deps.Events.AdminForcedReset, true, target.ID, actorID, nil, nil)
	return temporary, nil
}

func normalizeResetDeps(deps *ResetDeps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.RandomDuration == nil {
		deps.RandomDuration = func(time.Duration) time.Duration { return 0 }
	}
	if deps.MapLimiterError == nil {
		deps.MapLimiterError = func(err error) error { return err }
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(err error) error { return err }
	}
	if deps.IsUserNotFound == nil {
		deps.IsUserNotFound = func(err error) bool { return errors.Is(err, deps.Errors.UserNotFound) }
	}
	if deps.ClassifyTokenError == nil {
		deps.ClassifyTokenError = func(error) (error, string) { return deps.Errors.TokenFault, "unknown" }
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
}

// waitUntil blocks until deadline or ctx is done.
func waitUntil(ctx context.Context, deadline time.Time, now func() time.Time) error {
	d := deadline.Sub(now())
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func countRejection(deps ResetDeps, reason string) {
	if id, ok := deps.Metrics.RedeemRejected[reason]; ok {
		deps.MetricInc(id)
	}
}
