package httpapi

import (
	"net/http"
	"strings"

	"github.com/neuro-inc/platform-storage-api/pkg/version"
)

// versionHeaderMiddleware stamps every response (including error responses)
// with X-Service-Version, matching original api.py's add_version_to_header
// on_response_prepare hook.
func versionHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Service-Version", version.Header())
		next.ServeHTTP(w, r)
	})
}

// bearerAuthMiddleware rejects requests without a parseable
// "Authorization: Bearer <token>" header, forwarding the raw header value
// (never parsed further) to downstream permission checks so the identity
// service sees exactly what the caller sent. realm names the WWW-Authenticate
// challenge, matching security.py's PermissionChecker._raise_unauthorized.
func bearerAuthMiddleware(realm string, skip func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip != nil && skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") || strings.TrimPrefix(authHeader, "Bearer ") == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="`+realm+`"`)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authHeaderOf(r *http.Request) string {
	return r.Header.Get("Authorization")
}
