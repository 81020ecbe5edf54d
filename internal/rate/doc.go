// Package rate provides the fixed-window failed-login limiter used by local
// password authentication.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - ill: login per-email (sha256 of the normalized address)
//   - illip: login per-IP
//
// # What this package must NOT do
//
//   - Implement reset-flow policies (those live in internal/limiters).
//   - Be imported outside the goIdentity module.
package rate
