package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/ocx/backend/internal/session"
)

type contextKey string

const userIDContextKey contextKey = "ddalab_user_id"

// SessionMiddleware requires a valid "Bearer <token>" session token on every
// request, injecting the resolved user id into the request context.
func SessionMiddleware(mgr *session.Manager, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" || token == authHeader {
			http.Error(w, "missing bearer session token", http.StatusUnauthorized)
			return
		}

		_, userID, ok := mgr.ValidateToken(token)
		if !ok {
			http.Error(w, "invalid or expired session token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDContextKey, userID)
		next(w, r.WithContext(ctx))
	}
}

// UserIDFromContext returns the user id a SessionMiddleware call injected,
// if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey).(string)
	return id, ok
}
