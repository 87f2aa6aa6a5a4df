package rbac

import (
	"net/http"

	"github.com/euler-pro/platform/internal/httpx"
)

var defaultChecker = NewChecker(nil)

// Require enforces a single permission. It runs before the handler, so a
// mismatched role never reaches any data access.
func Require(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == "" || !defaultChecker.Has(role, perm) {
				deny(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny enforces that the role has at least one of the permissions.
func RequireAny(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == "" || !defaultChecker.Any(role, perms...) {
				deny(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusForbidden, map[string]string{
		"error": "Acceso denegado",
		"from":  r.URL.Path,
	})
}
