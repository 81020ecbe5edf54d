// Package limiters provides the sliding-window limiters guarding the password
// reset flow.
//
// # Limiters
//
//   - [ResetLimiter]: per-email + per-IP for reset requests, per-IP for redemption.
//
// Windows are Redis sorted sets trimmed and counted inside one Lua script, so
// the check and the record are atomic and a request denied on one dimension is
// not charged to the other. Email keys hold a sha256 of the normalized
// address, never the address itself.
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # What this package must NOT do
//
//   - Import goIdentity.
//   - Make policy decisions beyond counting; flow functions decide consequences.
package limiters
