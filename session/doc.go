// Package session enforces the single-active-session rule: a user has at
// most one live session, a new login displaces the old session, and
// sessions past their fixed lifetime are closed lazily by the first
// validation that notices them.
package session
