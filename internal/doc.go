// Package internal contains helper utilities that are intentionally private to
// mfacore, including secure random generation and per-key lock striping.
//
// # Sub-packages
//
//   - audit — async event dispatch (Dispatcher + Sink implementations)
//   - stores — Redis-backed single-use records (challenges, recovery tokens)
//
// # What this package must NOT do
//
//   - Export types that appear in the public mfacore API.
//   - Be imported by any package outside the mfacore module.
package internal
