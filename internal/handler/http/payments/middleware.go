package payments_http

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// UserIDHeader carries the caller identity, set by the API gateway after it verifies the token.
const UserIDHeader = "X-User-ID"

type ctxKey struct{}

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

func userIDFrom(ctx context.Context) string {
	userID, _ := ctx.Value(ctxKey{}).(string)
	return userID
}

func requireUser(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if userID == "" {
				writeFailure(w, http.StatusUnauthorized, "unauthorized", "User authentication required", logger)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
		})
	}
}
