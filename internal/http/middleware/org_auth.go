package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/casecurrentai/casecurrent/internal/tenancy"
)

// OrgClaims are the org-scoped claims every API token carries. Subject is the
// user id.
type OrgClaims struct {
	OrgID string `json:"org_id"`
	jwt.RegisteredClaims
}

// OrgJWT enforces an HMAC-signed bearer token carrying an org_id claim and
// injects org and user identity into the request context. Every /v1 route
// runs behind it.
func OrgJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "api auth disabled", http.StatusUnauthorized)
				return
			}
			// Websocket clients cannot set headers from the browser, so a
			// query token is accepted as the fallback.
			var tokenString string
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				tokenString = strings.TrimPrefix(auth, "Bearer ")
			} else {
				tokenString = r.URL.Query().Get("token")
			}
			if tokenString == "" {
				http.Error(w, "missing credentials", http.StatusUnauthorized)
				return
			}
			claims := &OrgClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid || claims.OrgID == "" {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := tenancy.WithOrgID(r.Context(), claims.OrgID)
			if claims.Subject != "" {
				ctx = tenancy.WithUserID(ctx, claims.Subject)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
