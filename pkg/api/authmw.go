package api

import (
	"net/http"
	"strings"

	"github.com/Warden-Labs/warden/pkg/auth"
)

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/health",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// AuthMiddleware creates JWT bearer auth middleware.
// If validator is nil, all non-public requests are rejected (fail closed).
func AuthMiddleware(validator *auth.JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteUnauthorized(w, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			tokenStr := parts[1]

			// fail closed if no validator configured
			if validator == nil {
				WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := validator.Validate(tokenStr)
			if err != nil {
				WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				WriteUnauthorized(w, "Token subject is required")
				return
			}
			if claims.TenantID == "" {
				WriteUnauthorized(w, "Token tenant binding is required")
				return
			}

			principal := &auth.BasePrincipal{
				ID:       claims.Subject,
				TenantID: claims.TenantID,
				Roles:    claims.Roles,
			}

			ctx := auth.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
