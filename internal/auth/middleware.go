// Package auth resolves the calling player from a bearer token.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/edvart/mazechase/internal/apperr"
)

type ctxKey struct{}

// Resolver turns a bearer token into a user id.
type Resolver interface {
	Resolve(token string) (string, error)
}

// ErrorWriter renders a classified error to the client.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFromContext returns the user id stored by RequireAuth.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequireAuth rejects requests without a valid bearer token and stores the
// resolved user id in the request context.
func RequireAuth(resolver Resolver, fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := resolver.Resolve(BearerToken(r))
			if err != nil {
				fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// CurrentUser is the identity collaborator used by handlers.
func CurrentUser(r *http.Request) (string, error) {
	id, ok := UserIDFromContext(r.Context())
	if !ok {
		return "", apperr.Unauthorized("auth.CurrentUser", "authorization required")
	}
	return id, nil
}
