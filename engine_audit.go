package goIdentity

import (
	"context"
	"errors"
)

const (
	auditEventAssertionLogin   = "assertion_login"
	auditEventUserProvisioned  = "user_provisioned"
	auditEventSubjectLinked    = "external_subject_linked"
	auditEventPasswordLogin    = "password_login"
	auditEventLoginRateLimited = "login_rate_limited"
	auditEventLogout           = "logout_session"
	auditEventLogoutAll        = "logout_all"
	auditEventAuthorizeDenied  = "authorize_denied"
	auditEventResetRequest     = "password_reset_request"
	auditEventResetTokenIssued = "password_reset_token_issued"
	auditEventResetRedeem      = "password_reset_redeem"
	auditEventResetMailFailed  = "password_reset_mail_failed"
	auditEventAdminForcedReset = "admin_forced_reset"
	auditEventUserCreated      = "user_created"
	auditEventUserRoleChanged  = "user_role_changed"
	auditEventUserDeleted      = "user_deleted"
	auditEventResetTokensSwept = "reset_tokens_swept"
)

// AuditErrorCode is the stable error code recorded on audit events.
type AuditErrorCode string

const (
	auditErrUnauthorized        AuditErrorCode = "unauthorized"
	auditErrInvalidAssertion    AuditErrorCode = "invalid_assertion"
	auditErrAssertionRejected   AuditErrorCode = "assertion_rejected"
	auditErrInvalidCredentials  AuditErrorCode = "invalid_credentials"
	auditErrThrottled           AuditErrorCode = "throttled"
	auditErrTokenFault          AuditErrorCode = "token_fault"
	auditErrUserNotFound        AuditErrorCode = "user_not_found"
	auditErrDuplicate           AuditErrorCode = "duplicate"
	auditErrInvalidRole         AuditErrorCode = "invalid_role"
	auditErrSessionInvalidation AuditErrorCode = "session_invalidation_failed"
	auditErrDeliveryFailed      AuditErrorCode = "delivery_failed"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	actorID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		ActorID:   actorID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// flowAudit adapts emitAudit to the flow callback shape, which carries no
// session id.
func (e *Engine) flowAudit(ctx context.Context, eventType string, success bool, userID, actorID string, err error, metadata func() map[string]string) {
	e.emitAudit(ctx, eventType, success, userID, actorID, "", err, metadata)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrSessionInvalidationFailed):
		return auditErrSessionInvalidation
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrThrottled):
		return auditErrThrottled
	case errors.Is(err, ErrInvalidAssertion):
		return auditErrInvalidAssertion
	case errors.Is(err, ErrAssertionRejected):
		return auditErrAssertionRejected
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrTokenFault),
		errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenAlreadyConsumed):
		return auditErrTokenFault
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrUserExists):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidRole), errors.Is(err, ErrInvalidSupervisor):
		return auditErrInvalidRole
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	default:
		return auditErrInternal
	}
}
