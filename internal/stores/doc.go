// Package stores provides Redis-backed, short-lived record stores for
// security-sensitive authentication flows: verification challenges and
// password-recovery tokens.
//
// # Design
//
// Each store persists a versioned, binary-encoded record in Redis with a TTL.
// Single-use claims (ClaimWithCode, Claim, MarkUsed) run inside WATCH/MULTI
// optimistic transactions with automatic retry on contention, so exactly one
// concurrent caller can consume a record. Used records keep their flag until
// the TTL evicts them, which lets callers tell a replay apart from expiry.
// Secret comparisons use constant-time compare.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// records. It does NOT generate codes or tokens, pick security questions,
// or make authentication decisions — those belong to the Engine.
//
// # What this package must NOT do
//
//   - Import mfacore or any sibling internal package.
//   - Log or expose plaintext secrets.
//   - Use non-constant-time comparisons for secret matching.
package stores
