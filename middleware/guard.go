package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nvrivera/mfacore"
)

type sessionContextKey struct{}

// SessionFromContext returns the session attached by [Guard], if any.
func SessionFromContext(ctx context.Context) (*mfacore.SessionInfo, bool) {
	info, ok := ctx.Value(sessionContextKey{}).(*mfacore.SessionInfo)
	return info, ok
}

// Guard rejects requests that do not carry a live session credential. The
// bearer token is validated end to end (signature, session liveness,
// ownership, lifetime) and the resulting session is attached to the
// request context for downstream handlers.
func Guard(engine *mfacore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			info, err := engine.ValidateSession(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
