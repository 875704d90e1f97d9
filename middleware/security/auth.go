package security

import (
	"net/http"
	"strings"

	"PSocial/tools/security"

	"github.com/gin-gonic/gin"
)

// CtxUserIDKey 鉴权通过后写入 gin.Context 的用户 ID
const CtxUserIDKey = "userId"

// TokenFromRequest reads "Authorization: Bearer <t>", then x-auth-token, then
// the token query parameter (browsers cannot set headers on a WebSocket upgrade).
func TokenFromRequest(r *http.Request) string {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			return strings.TrimSpace(authz[7:])
		}
	}
	if t := strings.TrimSpace(r.Header.Get("x-auth-token")); t != "" {
		return t
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func Middleware(opts security.Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "No token, authorization denied"})
			return
		}
		claims, err := security.Verify(opts, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "Token is not valid"})
			return
		}
		c.Set(CtxUserIDKey, claims.UserID())
		c.Next()
	}
}

func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}
