// Package session provides Redis-backed server-side sessions with compact
// binary encoding.
//
// # Expiry policy
//
// A session has a sliding idle timeout bounded by an absolute lifetime. The
// idle window lives in the Redis key TTL and is renewed on every successful
// [Store.Get]; the absolute cap is stored in the value and never moves.
// Renewal uses SET XX, so it cannot resurrect a session destroyed
// concurrently.
//
// # Key layout
//
//   - <prefix>:s:<sessionID> holds the encoded [Session]
//   - <prefix>:u:<userID> holds the set of the user's session ids
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model. It does NOT
// generate session ids, interpret roles, or enforce authorization; those
// responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import goIdentity (no upward imports).
//   - Store plaintext secrets in [Session] fields.
package session
