// Package middleware exposes HTTP guards built on goIdentity.Engine session
// validation.
//
// # Guards
//
//   - [Guard] validates the session named by the request and optionally
//     checks role capabilities.
//   - [RequireSession] is Guard with default options.
//   - [RequireCapability] is Guard requiring one or more capabilities.
//
// The session id is read from the Authorization bearer header first and
// the session cookie second. The validated [goIdentity.SessionInfo] is
// injected into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Session state
// lives behind the Engine and is never read here.
//
// # What this package must NOT do
//
//   - Create or destroy sessions.
//   - Access Redis directly.
//   - Log session ids.
package middleware
