// Package password implements salted credential encoding, salt and password
// generation, and password policy checks.
//
// # Encoding
//
// Every algorithm except argon2id computes
//
//	base64(H(salt || utf16le(password)))
//
// where salt is the raw 16 bytes behind the stored base64 salt string. The
// argon2id algorithm derives the key from the same inputs and stores it in
// PHC string format so its cost parameters travel with the hash:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Encoding is deterministic over (password, salt). [Encoder.Verify] compares
// in constant time.
//
// # Architecture boundaries
//
// This package owns hashing, salts, generated passwords and the policy
// predicate. Deciding when a policy applies, and what a failed check means
// for a user record, is done by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other goMembership package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
