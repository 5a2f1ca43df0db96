// Package auth is the server's bearer-token authentication middleware,
// adapted from gateway/middleware/auth.go's Authenticator shape but
// verifying against internal/identity's opaque token map instead of a JWT
// (spec.md §6 "Authentication": "Tokens map to a user identity (user_id,
// handle, admin). 401 on missing/invalid.").
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/inflatable-cookie/converge/internal/identity"
)

type contextKey string

const contextKeyUser contextKey = "converge.user"

// Authenticator verifies bearer tokens against an identity.Store.
type Authenticator struct {
	identity *identity.Store
}

// NewAuthenticator builds an Authenticator backed by store.
func NewAuthenticator(store *identity.Store) *Authenticator {
	return &Authenticator{identity: store}
}

// Middleware rejects requests without a valid bearer token with 401,
// otherwise attaches the resolved identity.User to the request context.
// Callers mount it on every route except /healthz, /metrics and /bootstrap.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		user, ok := a.identity.Authenticate(token)
		if !ok {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin wraps next, rejecting non-admin callers with 403. It must sit
// behind Middleware so the context already carries a resolved user.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok || !user.Admin {
			http.Error(w, `{"error":"admin required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromContext returns the identity.User attached by Middleware.
func UserFromContext(ctx context.Context) (identity.User, bool) {
	user, ok := ctx.Value(contextKeyUser).(identity.User)
	return user, ok
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
