package router

import (
	"context"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/denisAlshanov/tubegrab/internal/api/handlers"
	"github.com/denisAlshanov/tubegrab/internal/api/middleware"
	"github.com/denisAlshanov/tubegrab/internal/config"
	"github.com/denisAlshanov/tubegrab/internal/metrics"
	"github.com/denisAlshanov/tubegrab/internal/services/ratelimit"
)

type Router struct {
	engine *gin.Engine
	server *http.Server
	config *config.Config
}

func NewRouter(cfg *config.Config, videoHandler *handlers.VideoHandler, healthHandler *handlers.HealthHandler, limiter *ratelimit.Limiter, m *metrics.Metrics) *Router {
	gin.SetMode(cfg.Server.Mode)

	engine := gin.New()

	engine.Use(middleware.CorrelationIDMiddleware())
	engine.Use(middleware.RecoveryMiddleware())
	engine.Use(middleware.BodyLimitMiddleware(cfg.API.MaxRequestBody))

	// Health endpoints (no auth required)
	health := engine.Group("/")
	{
		health.GET("/health", healthHandler.Health)
		health.GET("/ready", healthHandler.Readiness)
		health.GET("/live", healthHandler.Liveness)
	}

	engine.GET("/metrics", gin.WrapH(m.Handler()))

	// Swagger documentation (no auth required)
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Rejected keys never reach the limiter, so they cost no quota.
	api := engine.Group("/api")
	api.Use(middleware.AuthMiddleware(&cfg.API, m))
	api.Use(middleware.RateLimitMiddleware(limiter, m))
	{
		api.POST("/info", videoHandler.GetInfo)
		api.POST("/download", videoHandler.Download)
		api.POST("/thumbnails", videoHandler.GetThumbnails)
		api.POST("/subtitles", videoHandler.GetSubtitles)
	}

	return &Router{
		engine: engine,
		config: cfg,
		server: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           engine,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		},
	}
}

// Start blocks until the server stops. It returns nil after Shutdown.
func (r *Router) Start() error {
	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight downloads
// until ctx expires.
func (r *Router) Shutdown(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

func (r *Router) Addr() string {
	return r.server.Addr
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
