/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package router builds the gin engine and wires the middleware chain and
// route groups.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/api/handlers"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/auth"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/metrics"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/ratelimit"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/router/middleware"
)

type Config struct {
	DevMode          bool
	AuthEnabled      bool
	RateLimitEnabled bool
	CorsOrigins      []string
}

type Handlers struct {
	Decompile *handlers.DecompileHandler
	Provider  *handlers.ProviderHandler
	Admin     *handlers.AdminHandler
	Health    *handlers.HealthHandler
	System    *handlers.SystemHandler
}

// New assembles the engine. Middleware order, outermost first: CORS →
// error mapper → correlation id → request logging → auth; rate limiting is
// applied per route group so upload and LLM endpoints get their stricter
// category limits.
func New(cfg Config, authService *auth.Service, limiter *ratelimit.Limiter, h Handlers) *gin.Engine {
	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CorsMiddleware(cfg.CorsOrigins))
	engine.Use(middleware.HandleErrors())
	engine.Use(middleware.HandleCorrelation())
	engine.Use(middleware.HandleLogging())
	engine.Use(middleware.HandleAuth(authService, cfg.AuthEnabled))

	engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "bin2nlp", "docs": "/docs"})
	})
	engine.GET("/metrics", func(c *gin.Context) {
		text, err := metrics.GetPrometheusAsFmtText()
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		c.String(http.StatusOK, text)
	})

	generic := middleware.HandleRateLimit(limiter, ratelimit.CategoryGeneric, cfg.RateLimitEnabled)
	upload := middleware.HandleRateLimit(limiter, ratelimit.CategoryUpload, cfg.RateLimitEnabled)
	llmRate := middleware.HandleRateLimit(limiter, ratelimit.CategoryLLM, cfg.RateLimitEnabled)

	v1 := engine.Group("/api/v1")

	v1.GET("/health", h.Health.Health)
	v1.GET("/health/ready", h.Health.Ready)
	v1.GET("/health/live", h.Health.Live)
	v1.GET("/system/info", h.System.Info)

	decompile := v1.Group("/decompile")
	decompile.GET("/test", generic, h.Decompile.TestProbe)
	decompile.POST("", upload, middleware.RequirePermission(auth.PermissionWrite), h.Decompile.Submit)
	decompile.GET("/:id", generic, h.Decompile.Status)
	decompile.DELETE("/:id", generic, middleware.RequirePermission(auth.PermissionWrite), h.Decompile.Cancel)

	providers := v1.Group("/llm-providers")
	providers.GET("", generic, h.Provider.List)
	providers.GET("/:id", generic, h.Provider.Detail)
	providers.POST("/:id/health-check", llmRate, h.Provider.ForceHealthCheck)

	admin := v1.Group("/admin")
	admin.Use(generic)
	admin.POST("/dev/create-api-key", h.Admin.DevCreateKey)
	adminOnly := admin.Group("")
	adminOnly.Use(middleware.RequirePermission(auth.PermissionAdmin))
	adminOnly.POST("/api-keys", h.Admin.CreateKey)
	adminOnly.GET("/api-keys/:user", h.Admin.ListKeys)
	adminOnly.DELETE("/api-keys/:user/:keyId", h.Admin.RevokeKey)
	adminOnly.GET("/stats", h.Admin.Stats)

	return engine
}
