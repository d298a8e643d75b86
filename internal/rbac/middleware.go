package rbac

import (
	"net/http"

	"identity-service/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireIdentity enforces that a verified session put a user id in context.
// Mount it after auth.RequireSession.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := auth.UserID(c.Request.Context())
		if err != nil || uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, deny(kindUnauthorized, "session required"))
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// ADMIN bypasses all checks.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, deny(kindUnauthorized, "role required"))
			return
		}
		if IsAdmin(role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, deny(kindForbidden, "forbidden"))
			return
		}
		c.Next()
	}
}

const (
	kindUnauthorized = "UNAUTHORIZED"
	kindForbidden    = "FORBIDDEN"
)

func deny(kind, msg string) gin.H {
	return gin.H{"success": false, "kind": kind, "message": msg}
}
