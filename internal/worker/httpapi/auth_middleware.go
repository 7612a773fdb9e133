package httpapi

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// jwtAuth verifies the HS256 bearer token the orchestrator's
// workerclient.Client signs on every /migrate and /test-connection
// call, in the style of stanstork-stratum-api's AuthHandler.JWTMiddleware
// but checking issuer/audience instead of user roles, since this token
// authenticates a process, not a person (spec §6 "internal
// service-to-service auth").
func jwtAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, "authorization header required", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(auth, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || claims["aud"] != "migratum-worker" || claims["iss"] != "migratum-orchestrator" {
				http.Error(w, "token not valid for this service", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
