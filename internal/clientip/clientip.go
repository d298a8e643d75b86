// Package clientip carries the resolved client IP through internal layers.
package clientip

import (
	"context"

	"github.com/gin-gonic/gin"
)

// HTTP handlers resolve the real client IP and attach it to the request
// context; services read it back for rate limiting and audit.
type clientIPKey struct{}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func FromContext(ctx context.Context) string {
	v := ctx.Value(clientIPKey{})
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Middleware stores gin's resolved client IP on the request context.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}
