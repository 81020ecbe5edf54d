// Package identity verifies third-party identity assertions (signed ID
// tokens) and resolves their verification keys from pinned keys or a cached
// JWKS endpoint.
//
// Verification is pure: it touches no user store. Every rejection wraps
// ErrInvalidAssertion; failures to obtain keys wrap ErrKeysUnavailable so
// callers can report them as retryable.
package identity
