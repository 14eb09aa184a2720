package mfacore

import "context"

type contextKey uint8

const originKey contextKey = 1

// WithOrigin attaches the caller's network origin (usually the client IP) to
// the context. Audit events and attempt-ledger rows pick it up from there.
func WithOrigin(ctx context.Context, origin string) context.Context {
	if origin == "" {
		return ctx
	}
	return context.WithValue(ctx, originKey, origin)
}

func originFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(originKey).(string); ok {
		return v
	}
	return ""
}
