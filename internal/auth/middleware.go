package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"bus-tracker/internal/fleet"
)

type ctxKey struct{}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}

// TokenFromRequest reads the bearer token, falling back to the token query
// parameter that websocket clients use.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return h
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects requests without a valid token (401) and, when roles
// are given, tokens of any other role (403).
func (m *Manager) Middleware(roles ...fleet.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := m.Validate(TokenFromRequest(r))
			if err != nil {
				deny(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if len(roles) > 0 && !hasRole(claims.Role, roles) {
				deny(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func hasRole(r fleet.Role, roles []fleet.Role) bool {
	for _, want := range roles {
		if r == want {
			return true
		}
	}
	return false
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
