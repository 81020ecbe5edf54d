// Package stores provides the Redis-backed reset-token store, an alternative to
// keeping reset tokens in the relational credential store.
//
// # Design
//
// Each token is a versioned, binary-encoded record keyed by the sha256 of the
// token, with a per-user index key pointing at the user's single outstanding
// token. Create and Consume use WATCH/MULTI optimistic transactions with a
// bounded retry on contention, so issuing a token atomically supersedes the
// previous one and consuming is a check-and-set.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for reset tokens. It
// does NOT generate tokens, enforce rate limits, or make authentication
// decisions; those belong to the flow functions in internal/flows.
//
// # What this package must NOT do
//
//   - Import goIdentity or any sibling internal package.
//   - Store or log plaintext tokens.
package stores
