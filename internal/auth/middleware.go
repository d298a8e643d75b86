package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// Verifier is satisfied by *Issuer.
type Verifier interface {
	VerifySessionToken(signed string) (Claims, error)
}

// RequireSession verifies the session token from the named cookie, falling back to
// an Authorization bearer header, and injects identity into the request context.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireSession(v Verifier, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := SessionToken(c, cookieName)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, unauthorized("missing session"))
			return
		}

		claims, err := v.VerifySessionToken(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, unauthorized("invalid session"))
			return
		}
		if claims.Active != nil && !*claims.Active {
			c.AbortWithStatusJSON(http.StatusUnauthorized, unauthorized("account disabled"))
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.Subject, claims.Role)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience.
		c.Set("user_id", claims.Subject)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// SessionToken returns the session token from the named cookie or the bearer header.
func SessionToken(c *gin.Context, cookieName string) string {
	if cookieName != "" {
		if v, err := c.Cookie(cookieName); err == nil && v != "" {
			return v
		}
	}
	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if strings.HasPrefix(raw, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	}
	return ""
}

func unauthorized(msg string) gin.H {
	return gin.H{"success": false, "kind": "UNAUTHORIZED", "message": msg}
}
