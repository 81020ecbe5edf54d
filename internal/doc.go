// Package internal contains helper utilities that are intentionally private to goIdentity,
// most importantly the single entropy source for session ids, reset tokens and
// temporary passwords.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: environment configuration for the identityd binary
//   - delivery: bounded worker pool for asynchronous mail delivery
//   - flows: pure-function flow orchestrators for reset and login
//   - httpapi: JSON HTTP surface served by identityd
//   - limiters: sliding-window limiters for reset request and redemption
//   - rate: fixed-window attempt limiter for password login
//   - security: configuration posture report
//   - stores: Redis reset-token backend
//
// # What this package must NOT do
//
//   - Export types that appear in the public goIdentity API.
//   - Be imported by any package outside the goIdentity module.
package internal
