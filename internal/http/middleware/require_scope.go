package middleware

import (
	"net/http"

	"github.com/fitlane/chatroom/internal/httputil"
)

// RequireScope enforces a token scope for privileged endpoints.
// This middleware should be applied AFTER the Auth middleware.
//
// Example usage:
//
//	r.With(middleware.Auth(secret, issuer)).
//	  With(middleware.RequireScope("admin")).
//	  Post("/v1/admin/audit", adminHandler.Audit)
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scopes, ok := GetScopes(r.Context())
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			for _, s := range scopes {
				if s == scope {
					next.ServeHTTP(w, r)
					return
				}
			}

			httputil.Error(w, http.StatusForbidden, "insufficient scope for this operation")
		})
	}
}
