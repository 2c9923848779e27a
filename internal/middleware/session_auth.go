package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/haulpoints/backend/internal/actor"
	"github.com/haulpoints/backend/internal/models"
)

type contextKey string

const (
	ctxPrincipalKey     contextKey = "principal"
	ctxImpersonationKey contextKey = "impersonation"
)

// TokenValidator decodes a bearer token into the acting account, its
// role claim, and any impersonation marker.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, models.Role, actor.ImpersonationContext, error)
}

// AccountLookup resolves the token subject to a stored account.
type AccountLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// SessionAuth authenticates requests with a Bearer JWT. On success it
// sets the acting account and the token's impersonation marker into
// request context. During impersonation the principal is the driver
// being acted as; the marker preserves who is really behind the call.
func SessionAuth(tokens TokenValidator, accounts AccountLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}

			accountID, _, imp, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			acc, err := accounts.GetByID(r.Context(), accountID)
			if err != nil || acc == nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxPrincipalKey, acc)
			ctx = context.WithValue(ctx, ctxImpersonationKey, imp)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromCtx returns the authenticated account.
func PrincipalFromCtx(ctx context.Context) (*models.Account, bool) {
	acc, ok := ctx.Value(ctxPrincipalKey).(*models.Account)
	return acc, ok && acc != nil
}

// WithPrincipal returns a context carrying the given account.
func WithPrincipal(ctx context.Context, acc *models.Account) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, acc)
}

// ImpersonationFromCtx returns the impersonation marker for the request,
// zero-valued for ordinary sessions.
func ImpersonationFromCtx(ctx context.Context) actor.ImpersonationContext {
	imp, _ := ctx.Value(ctxImpersonationKey).(actor.ImpersonationContext)
	return imp
}

// WithImpersonation returns a context carrying the given marker.
func WithImpersonation(ctx context.Context, imp actor.ImpersonationContext) context.Context {
	return context.WithValue(ctx, ctxImpersonationKey, imp)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
