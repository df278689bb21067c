package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cad-copilot/backend/internal/api"
	"cad-copilot/backend/internal/ws"
	"cad-copilot/backend/pkg/config"
	"cad-copilot/backend/pkg/di"
	"cad-copilot/backend/pkg/errors"
	"cad-copilot/backend/pkg/logger"
	"cad-copilot/backend/pkg/middleware"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Hub         *ws.Hub
	Config      *config.Config
	rateLimiter *middleware.RateLimiter
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config
	logger.SetGlobal(container.Logger)

	// Configure Gin mode based on environment
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		container.Logger.Warn("Invalid trusted proxies", "error", err.Error())
	}

	// Recovery wraps everything so panics in later middleware are caught
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(logger.Middleware(container.Logger, "/health", "/api/health"))
	engine.Use(errors.ErrorHandler())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	engine.Use(maxBodySize(cfg.Security.MaxBodySize))

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Hub:         container.Hub,
		Config:      cfg,
		rateLimiter: middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptionsFromConfig(cfg)),
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container

	if r.Config.Features.EnableOpenAPIValidation {
		r.AddOpenAPIValidation()
	}

	r.setupHealthRoutes()

	// Model calls are costly, so everything under /api is rate limited
	apiGroup := r.Engine.Group("/api", r.rateLimiter.Middleware())
	v1 := apiGroup.Group("/v1")

	sessionAuth := func(ctx *gin.Context) { ctx.Next() }
	if r.Config.Features.EnableSessionTokens {
		sessionAuth = middleware.RequireSessionToken(c.JWTService, r.Logger)
	}

	api.NewSessionHandler(c.ConversationService, c.JWTService, r.Logger).RegisterRoutes(v1, sessionAuth)
	api.NewLLMHandler(c.Adapter, c.ConversationService, r.Logger).RegisterRoutes(apiGroup, v1)

	if r.Config.Features.EnableWebSockets {
		r.Engine.GET("/ws", sessionAuth, func(ctx *gin.Context) {
			ws.ServeWs(r.Hub, ctx)
		})
	}
}

// Close stops background work owned by the router
func (r *Router) Close() {
	r.rateLimiter.Stop()
}

// corsMiddleware allows the configured origins, including websocket upgrades
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := false
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case origin != "" && origins[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// maxBodySize caps request bodies. Sketches and renders travel as data URLs.
func maxBodySize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
