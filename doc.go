// Package mfacore implements a multi-factor authentication service: account
// registration with machine-issued usernames, password verification with
// attempt-based lockout, second-factor challenges (email code, SMS code,
// security questions, USB token), single-active-session management with JWT
// access tokens, and single-use password recovery.
//
// Wiring happens through the Builder:
//
//	engine, err := mfacore.NewBuilder().
//		WithDB(db).
//		WithRedis(rdb).
//		WithMailer(mailer).
//		Build()
//
// Account and attempt state lives in the relational store; challenges and
// recovery tokens live in Redis with their TTLs enforced server-side. Every
// login completion, whichever factor finishes it, funnels through one code
// path that closes any previous session before opening the new one.
package mfacore
