package middleware

import (
	"net/http"

	"github.com/haulpoints/backend/internal/models"
)

// RequireRole gates a route to the listed roles. Must run after
// SessionAuth. The check looks at the principal's stored role, so an
// impersonated driver session never passes a sponsor- or admin-only
// gate even though a sponsor started it.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	allowed := make(map[models.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc, ok := PrincipalFromCtx(r.Context())
			if !ok {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if !allowed[acc.Role] {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
