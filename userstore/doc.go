// Package userstore owns the relational side of the authentication state:
// accounts, the login-attempt ledger, configured security answers, and
// registered usb devices.
//
// # Design
//
// Accounts carry a single Active flag rather than a status enum; a lockout
// and a pending activation are both "inactive" and both are lifted by an
// explicit state change. The attempt ledger is append-only for failures:
// the newest row's FailCount is the consecutive-failure total, a success
// writes a zero row and prunes the failures, and reaching the threshold
// deactivates the account in the same transaction. Per-user striped locks
// serialize ledger mutations so concurrent logins see a linear history.
//
// # What this package must NOT do
//
//   - Compare passwords or hashes.
//   - Decide which error an API caller sees.
//   - Import any mfacore package other than internal.
package userstore
