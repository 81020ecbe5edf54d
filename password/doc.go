// Package password implements password hashing and verification with Argon2id defaults.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Legacy bcrypt hashes ($2a$, $2b$, $2y$) imported from older systems still
// verify, and [Argon2.NeedsUpgrade] always reports them so the caller can
// re-hash on the next successful login. The same applies to Argon2id hashes
// produced with weaker parameters.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. The only input rule is that
// a password is non-empty and not longer than MaxPasswordBytes.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other goIdentity package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
