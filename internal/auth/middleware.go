package auth

import (
	"context"
	"net/http"
	"strings"
)

// ContextKey is a type for context keys.
type ContextKey string

// ClaimsKey is the context key for validated service claims.
const ClaimsKey ContextKey = "claims"

// RequireServiceToken validates the bearer token and checks it carries scope.
// A nil token service disables the check, which is how local development
// runs without a secret.
func RequireServiceToken(tokens *ServiceTokens, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokens == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteError(w, http.StatusUnauthorized, "MissingToken", "Authorization header required")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				WriteError(w, http.StatusUnauthorized, "InvalidToken", "Invalid authorization header format")
				return
			}

			claims, err := tokens.Validate(parts[1])
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "InvalidToken", "Invalid or expired token")
				return
			}
			if !claims.HasScope(scope) {
				WriteError(w, http.StatusForbidden, "InsufficientScope", "Token does not grant "+scope)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims extracts service claims from request context.
func GetClaims(r *http.Request) (*ServiceClaims, bool) {
	claims, ok := r.Context().Value(ClaimsKey).(*ServiceClaims)
	return claims, ok
}
