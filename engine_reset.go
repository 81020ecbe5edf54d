package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/delivery"
	internalflows "github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/password"
)

const deliveryKindResetMail = "password_reset_mail"

// RequestReset starts a password reset for email. It returns nil whether or
// not an account exists, and takes the same time either way. Rate limits
// yield ErrThrottled; limiter or store outages yield ErrStoreUnavailable.
// In DeliverySync mode a mailer failure yields ErrDeliveryFailed and the
// issued token stays valid.
func (e *Engine) RequestReset(ctx context.Context, email string) error {
	return internalflows.RunRequestReset(ctx, email, e.resetFlowDeps())
}

// RedeemReset consumes token and sets newPassword, then destroys every
// session of the user. Any token problem yields ErrTokenFault. If the
// password changed but sessions could not be destroyed the error is
// errors.Join(ErrSessionInvalidationFailed, cause).
func (e *Engine) RedeemReset(ctx context.Context, token, newPassword string) error {
	return internalflows.RunRedeemReset(ctx, token, newPassword, e.resetFlowDeps())
}

// AdminForcedReset sets a generated temporary password on targetUserID on
// behalf of the admin owning adminSessionID, invalidates the target's reset
// tokens and sessions, and returns the temporary password. This is the only
// place the plaintext exists.
func (e *Engine) AdminForcedReset(ctx context.Context, adminSessionID, targetUserID string) (string, error) {
	return internalflows.RunAdminForcedReset(ctx, adminSessionID, targetUserID, e.resetFlowDeps())
}

func (e *Engine) resetFlowDeps() internalflows.ResetDeps {
	var cfg Config
	if e != nil {
		cfg = e.config
	}

	deps := internalflows.ResetDeps{
		TokenTTL:            cfg.ResetToken.TTL,
		MinResponseTime:     cfg.ResetToken.MinResponseTime,
		Jitter:              cfg.ResetToken.Jitter,
		OperationTimeout:    cfg.Store.OperationTimeout,
		SyncDelivery:        cfg.ResetToken.Delivery == DeliverySync,
		DeliveryTimeout:     cfg.Delivery.Timeout,
		ClientIPFromContext: clientIPFromContext,
		RandomDuration:      internal.RandomDuration,
		MapLimiterError:     mapResetLimiterError,
		MapStoreError:       mapStoreError,
		IsUserNotFound: func(err error) bool {
			return errors.Is(err, ErrUserNotFound)
		},
		NewResetToken: func() (string, [32]byte, error) {
			token, err := internal.NewResetToken()
			if err != nil {
				return "", [32]byte{}, err
			}
			return token.String(), token.Hash(), nil
		},
		ParseResetToken: func(s string) ([32]byte, error) {
			token, err := internal.ParseResetToken(s)
			if err != nil {
				return [32]byte{}, err
			}
			return token.Hash(), nil
		},
		ClassifyTokenError:   classifyTokenError,
		NewTemporaryPassword: internal.NewTemporaryPassword,
		Metrics: internalflows.ResetMetrics{
			Request:          int(MetricResetRequest),
			TokenIssued:      int(MetricResetTokenIssued),
			RateLimited:      int(MetricResetRateLimited),
			RedeemSuccess:    int(MetricResetRedeemSuccess),
			RedeemFailure:    int(MetricResetRedeemFailure),
			AdminForcedReset: int(MetricAdminForcedReset),
			MailDropped:      int(MetricMailDropped),
			RedeemRejected: map[string]int{
				"not_found": int(MetricResetRedeemNotFound),
				"expired":   int(MetricResetRedeemExpired),
				"consumed":  int(MetricResetRedeemConsumed),
				"malformed": int(MetricResetRedeemMalformed),
			},
		},
		Events: internalflows.ResetEvents{
			Request:          auditEventResetRequest,
			TokenIssued:      auditEventResetTokenIssued,
			Redeem:           auditEventResetRedeem,
			AdminForcedReset: auditEventAdminForcedReset,
			DeliveryFailed:   auditEventResetMailFailed,
		},
		Errors: internalflows.ResetErrors{
			EngineNotReady:            ErrEngineNotReady,
			Throttled:                 ErrThrottled,
			StoreUnavailable:          ErrStoreUnavailable,
			TokenFault:                ErrTokenFault,
			PasswordRequired:          ErrPasswordRequired,
			Unauthorized:              ErrUnauthorized,
			UserNotFound:              ErrUserNotFound,
			SessionInvalidationFailed: ErrSessionInvalidationFailed,
			DeliveryFailed:            ErrDeliveryFailed,
		},
	}

	if !e.ready() {
		return deps
	}

	deps.Logger = e.logger
	deps.Now = e.now
	deps.MetricInc = func(id int) { e.metricInc(MetricID(id)) }
	deps.EmitAudit = e.flowAudit

	deps.CheckRequestLimiter = e.resetLimiter.CheckRequest
	deps.CheckRedeemLimiter = e.resetLimiter.CheckRedeem

	deps.FindUserByEmail = func(ctx context.Context, email string) (internalflows.ResetUser, error) {
		u, err := e.users.FindUserByEmail(ctx, email)
		if err != nil {
			return internalflows.ResetUser{}, err
		}
		return toResetUser(u), nil
	}
	deps.FindUserByID = func(ctx context.Context, userID string) (internalflows.ResetUser, error) {
		u, err := e.users.FindUserByID(ctx, userID)
		if err != nil {
			return internalflows.ResetUser{}, err
		}
		return toResetUser(u), nil
	}

	deps.CreateResetToken = func(ctx context.Context, hash [32]byte, userID string, issuedAt, expiresAt time.Time) error {
		return e.tokens.CreateResetToken(ctx, ResetTokenRecord{
			TokenHash: hash,
			UserID:    userID,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		})
	}
	deps.InvalidateOutstandingTokens = e.tokens.InvalidateOutstandingTokens
	deps.ConsumeToken = e.tokens.ConsumeToken

	deps.HashPassword = e.hashNewPassword
	deps.UpdatePasswordHash = e.users.UpdatePasswordHash
	deps.DestroyAllForUser = e.DestroyAllForUser
	deps.AuthorizeAdmin = func(ctx context.Context, sessionID string) (string, error) {
		info, err := e.Authorize(ctx, sessionID, CapabilityForcePasswordReset)
		if err != nil {
			return "", err
		}
		return info.UserID, nil
	}

	deps.SendResetMail = func(ctx context.Context, user internalflows.ResetUser, token string) error {
		err := e.mailer.Send(ctx, e.resetMail(user, token))
		if err != nil {
			e.metricInc(MetricMailFailed)
		} else {
			e.metricInc(MetricMailDelivered)
		}
		return err
	}
	deps.EnqueueResetMail = func(user internalflows.ResetUser, token string) error {
		msg := e.resetMail(user, token)
		return e.delivery.Enqueue(delivery.Job{
			Kind: deliveryKindResetMail,
			Ref:  user.ID,
			Send: func(ctx context.Context) error {
				return e.mailer.Send(ctx, msg)
			},
		})
	}

	return deps
}

// hashNewPassword enforces the only password policy: non-empty and within
// the configured byte limit.
func (e *Engine) hashNewPassword(pw string) (string, error) {
	if pw == "" {
		return "", ErrPasswordRequired
	}
	hash, err := e.passwords.Hash(pw)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrEmptyPassword):
			return "", ErrPasswordRequired
		case errors.Is(err, password.ErrPasswordTooLong):
			return "", ErrPasswordTooLong
		default:
			return "", fmt.Errorf("hash password: %w", err)
		}
	}
	return hash, nil
}

func (e *Engine) resetMail(user internalflows.ResetUser, token string) MailMessage {
	return MailMessage{
		To:       user.Email,
		Name:     user.DisplayName,
		Template: e.config.ResetToken.MailTemplate,
		Data: map[string]string{
			"reset_link": resetLink(e.config.ResetToken.LinkBaseURL, token),
			"expires_in": e.config.ResetToken.TTL.String(),
		},
	}
}

func (e *Engine) onDeliveryResult(job delivery.Job, err error) {
	if err == nil {
		e.metricInc(MetricMailDelivered)
		return
	}
	e.metricInc(MetricMailFailed)
	e.logger.Warn("mail delivery failed", slog.String("kind", job.Kind), slog.String("user_id", job.Ref), slog.Any("error", err))
	e.emitAudit(context.Background(), auditEventResetMailFailed, false, job.Ref, "", "", ErrDeliveryFailed, func() map[string]string {
		return map[string]string{"kind": job.Kind}
	})
}

func resetLink(base, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func toResetUser(u User) internalflows.ResetUser {
	return internalflows.ResetUser{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Active:      u.Active,
	}
}

func mapResetLimiterError(err error) error {
	switch {
	case errors.Is(err, limiters.ErrResetRateLimited):
		return ErrThrottled
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// mapStoreError passes through domain sentinels and wraps anything else as
// ErrStoreUnavailable.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrUserExists),
		errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrInvalidRole),
		errors.Is(err, ErrInvalidSupervisor):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func classifyTokenError(err error) (error, string) {
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return ErrTokenFault, "not_found"
	case errors.Is(err, ErrTokenExpired):
		return ErrTokenFault, "expired"
	case errors.Is(err, ErrTokenAlreadyConsumed):
		return ErrTokenFault, "consumed"
	default:
		return mapStoreError(err), "store_unavailable"
	}
}
