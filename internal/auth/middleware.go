package auth

import (
	"net/http"
	"strings"

	"github.com/euler-pro/platform/internal/httpx"
	"github.com/euler-pro/platform/internal/rbac"
)

// JWTMiddleware authenticates Bearer tokens and places the caller's subject,
// role and display name into the request context. The rejected request's path
// is echoed back as "from" so clients can return there after re-login.
func JWTMiddleware(a *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				httpx.JSON(w, http.StatusUnauthorized, map[string]string{
					"error": "Se requiere autenticación",
					"from":  r.URL.Path,
				})
				return
			}
			claims, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				httpx.JSON(w, http.StatusUnauthorized, map[string]string{
					"error": "Sesión inválida o expirada",
					"from":  r.URL.Path,
				})
				return
			}
			ctx := rbac.WithSubject(r.Context(), claims.Sub)
			ctx = rbac.WithRole(ctx, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
