// Package goIdentity verifies federated identity assertions, manages
// Redis-backed server-side sessions, and runs the password reset lifecycle
// for a role-based sales application.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goIdentity is the public surface. It exposes [Engine], [Builder], [Config],
// the [CredentialStore] contract and value types ([User], [SessionInfo],
// [LoginResult]). Flow orchestration, session encoding, rate limiting, mail
// delivery and audit dispatch live under internal/ and are never exported.
// Assertion verification lives in the identity sub-package.
//
// # What this package must NOT do
//
//   - Store or log plaintext reset tokens, passwords or assertions.
//   - Reveal through results or timing whether an email has an account.
//   - Expose Redis clients or store internals in its public API.
//   - Import any sub-package that re-imports goIdentity.
//
// # Consistency contract
//
// A reset token is consumed at most once. Issuing a new token invalidates
// every older token of the same user. After [Engine.DestroyAllForUser]
// returns, no validation of any of the user's sessions succeeds.
package goIdentity
