package core

import (
	"net/http"
	"strings"

	"planguard/internal/types"
)

// IdentityMiddleware copies the user id set by the upstream auth layer from
// header into the request context. Requests without it pass through; routes
// that need a user wrap themselves in RequireIdentity.
func IdentityMiddleware(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := strings.TrimSpace(r.Header.Get(header)); id != "" {
				r = r.WithContext(types.WithUserID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireIdentity answers 401 when no user id is in the context.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := types.GetUserID(r.Context()); !ok {
			Error(w, r, types.NewAppError(types.ErrCodeAuthIdentityMissing, "authenticated user required", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
