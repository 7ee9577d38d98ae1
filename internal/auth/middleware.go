package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// APIKeyHeader is the header carrying the service API key.
	APIKeyHeader = "X-API-Key"

	// analystContextKey is the context key for the authenticated analyst.
	analystContextKey contextKey = "analyst"
)

// APIKeyMiddleware validates the service API key on ingest endpoints.
// An empty configured key disables the check (development mode).
func APIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := strings.TrimSpace(r.Header.Get(APIKeyHeader))
			if provided == "" {
				http.Error(w, "missing API key", http.StatusUnauthorized)
				return
			}
			if provided != apiKey {
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AnalystMiddleware validates the analyst bearer token on override
// endpoints and stores the analyst identity in the request context.
func AnalystMiddleware(manager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			claims, err := manager.ValidateToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), analystContextKey, claims.Analyst)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AnalystFromContext extracts the authenticated analyst identity.
func AnalystFromContext(ctx context.Context) (string, bool) {
	analyst, ok := ctx.Value(analystContextKey).(string)
	return analyst, ok
}
