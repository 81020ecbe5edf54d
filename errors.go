package goIdentity

import "errors"

// Public error kinds. Callers at the boundary branch on these with errors.Is
// and render them through PublicMessage.
var (
	// ErrInvalidAssertion reports an identity assertion that failed
	// signature, audience, issuer or expiry checks. Terminal.
	ErrInvalidAssertion = errors.New("invalid identity assertion")
	// ErrAssertionRejected reports a valid assertion that resolves to no
	// eligible account. It renders exactly like ErrInvalidAssertion.
	ErrAssertionRejected = errors.New("identity assertion rejected")
	// ErrTokenFault is the single kind for every reset token that is
	// malformed, unknown, expired, superseded or already used.
	ErrTokenFault = errors.New("reset link invalid or expired")
	// ErrThrottled reports a rate limit. It carries no counts.
	ErrThrottled = errors.New("too many requests")
	// ErrStoreUnavailable wraps infrastructure failures. Retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnauthorized reports a missing, invalid or insufficient session.
	ErrUnauthorized = errors.New("unauthorized")
)

var (
	// ErrInvalidCredentials reports a failed local password login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDeliveryFailed reports that a reset mail could not be sent inline.
	// The issued token stays valid. Retryable.
	ErrDeliveryFailed = errors.New("reset delivery failed")
	// ErrPasswordRequired reports an empty new password.
	ErrPasswordRequired = errors.New("password required")
	// ErrPasswordTooLong reports a password above the configured byte limit.
	ErrPasswordTooLong = errors.New("password too long")

	ErrUserNotFound      = errors.New("user not found")
	ErrUserExists        = errors.New("user already exists")
	ErrInvalidEmail      = errors.New("invalid email")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidSupervisor = errors.New("invalid supervisor")

	// Store-level reset token outcomes. RedeemReset collapses all three
	// into ErrTokenFault.
	ErrTokenNotFound        = errors.New("reset token not found")
	ErrTokenExpired         = errors.New("reset token expired")
	ErrTokenAlreadyConsumed = errors.New("reset token already consumed")

	// ErrSessionInvalidationFailed is joined with the cause when a password
	// was changed but the user's sessions could not be destroyed.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	// ErrIdentityDisabled reports an assertion login on an engine built
	// without an identity verifier.
	ErrIdentityDisabled = errors.New("identity assertions disabled")
	ErrEngineNotReady   = errors.New("engine not initialized")
)

// Messages returned to end users. They never distinguish causes an attacker
// could use to probe accounts or tokens.
const (
	MessageAuthFailed     = "authentication failed"
	MessageLinkInvalid    = "link invalid or expired"
	MessageResetRequested = "if an account exists for that address, a reset link has been sent"
	MessageThrottled      = "too many requests, try again later"
	MessageUnavailable    = "service temporarily unavailable, try again"
	MessageUnauthorized   = "unauthorized"
)

// PublicMessage normalizes err into one of the fixed user-facing messages.
// A nil error yields the empty string.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrThrottled):
		return MessageThrottled
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrDeliveryFailed):
		return MessageUnavailable
	case errors.Is(err, ErrTokenFault),
		errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenAlreadyConsumed):
		return MessageLinkInvalid
	case errors.Is(err, ErrInvalidAssertion),
		errors.Is(err, ErrAssertionRejected),
		errors.Is(err, ErrInvalidCredentials):
		return MessageAuthFailed
	default:
		return MessageUnauthorized
	}
}

// IsRetryable reports whether the caller may retry the same request later.
// Faults are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrDeliveryFailed)
}
