package main

import (
	"context"
	"log/slog"
	"net/http"

	"identity-service/internal/auth"
	"identity-service/internal/clientip"
	"identity-service/internal/httpapi"
	"identity-service/internal/metrics"
	"identity-service/internal/ratelimit"
	"identity-service/internal/rbac"
	"identity-service/pkg/logger"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	Handlers    httpapi.Handlers
	Verifier    auth.Verifier
	AuthLimiter ratelimit.Limiter
	Metrics     *metrics.Metrics
	Health      func(ctx context.Context) error
}

// newRouter wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal/authn.
func newRouter(log *slog.Logger, d routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(clientip.Middleware())
	r.Use(d.Metrics.Middleware())

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.Health != nil {
			if err := d.Health(c.Request.Context()); err != nil {
				logger.FromGin(c).Warn("health check failed", "err", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	h := d.Handlers
	session := auth.RequireSession(d.Verifier, h.Cookies.SessionCookieName())

	v1 := r.Group("/v1")

	// AUTH routes
	authGroup := v1.Group("/auth")
	if d.AuthLimiter != nil {
		authGroup.Use(ratelimit.ByClientIP(d.AuthLimiter))
	}
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/verify-email", h.VerifyEmail)
		authGroup.POST("/verify-email/resend", h.ResendVerification)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
		authGroup.POST("/logout", h.Logout)
		authGroup.POST("/password/forgot", h.ForgotPassword)
		authGroup.POST("/password/reset", h.ResetPassword)
		authGroup.POST("/password/change", session, rbac.RequireIdentity(), h.ChangePassword)
	}

	// ACCOUNT routes
	v1.GET("/me", session, rbac.RequireIdentity(), rbac.RequireAnyRole(rbac.RoleUser), h.Me)

	// ADMIN routes
	admin := v1.Group("/admin")
	admin.Use(session, rbac.RequireIdentity(), rbac.RequireAnyRole(rbac.RoleAdmin))
	{
		admin.PATCH("/users/:id", h.AdminUpdateUser)
	}

	return r
}
