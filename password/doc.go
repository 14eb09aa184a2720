// Package password implements secret hashing and verification with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The same hasher covers login passwords and security-question answers;
// answers are normalized (trimmed, lowercased) before hashing so later
// verification is insensitive to case and surrounding whitespace.
//
// The [Argon2] hasher supports transparent parameter upgrades: if a stored
// hash was produced with weaker parameters, [Argon2.NeedsUpgrade] returns
// true so the caller can re-hash on the next successful verification.
//
// # What this package must NOT do
//
//   - Store or retrieve secrets — callers supply plaintext and receive hashes.
//   - Import any other mfacore package.
//   - Log plaintext secrets or hash parameters at runtime.
package password
