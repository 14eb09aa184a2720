// Package middleware exposes an HTTP adapter over engine session
// validation.
//
// [Guard] reads the Authorization header, calls Engine.ValidateSession, and
// injects the validated session into the request context, where handlers
// retrieve it with [SessionFromContext].
//
// This package translates HTTP semantics into engine calls and nothing
// more: it never parses tokens or touches storage itself, and it makes no
// decision beyond pass/reject.
package middleware
