// Package main provides the entry point for the tubegrab service.
// @title Tubegrab API
// @version 1.0
// @description Resolve video metadata and stream video or mp3 audio downloads without buffering them on the server.
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.example.com/support
// @contact.email support@example.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:3000
// @BasePath /

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key authentication

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/denisAlshanov/tubegrab/docs" // Import for swagger docs
	"github.com/denisAlshanov/tubegrab/internal/api/handlers"
	"github.com/denisAlshanov/tubegrab/internal/api/router"
	"github.com/denisAlshanov/tubegrab/internal/config"
	"github.com/denisAlshanov/tubegrab/internal/metrics"
	"github.com/denisAlshanov/tubegrab/internal/services/extractor"
	"github.com/denisAlshanov/tubegrab/internal/services/media"
	"github.com/denisAlshanov/tubegrab/internal/services/ratelimit"
	"github.com/denisAlshanov/tubegrab/internal/utils"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	utils.SetLogLevel(cfg.LogLevel)
	logger := utils.GetLogger()
	logger.Info("Starting tubegrab service")

	ctx := context.Background()
	m := metrics.New()

	// Initialize extraction engine
	engine, err := extractor.New(&cfg.Extractor)
	if err != nil {
		logger.Fatalf("Failed to initialize extractor: %v", err)
	}
	if err := engine.Check(ctx); err != nil {
		logger.Warnf("Extractor %s is not usable yet, downloads will fail until it is: %v", engine.Name(), err)
	}

	// Initialize rate limit store
	store, err := ratelimit.NewStore(ctx, &cfg.API)
	if err != nil {
		logger.Fatalf("Failed to initialize rate limit store: %v", err)
	}
	limiter := ratelimit.NewLimiter(store, cfg.API.RateLimitRequests, cfg.API.RateLimitWindow)

	resolver := media.NewResolver(engine, cfg.Extractor.ResolveTimeout, m)
	transfers := media.NewTransferManager(engine, media.TransferOptions{
		ChunkSize:      cfg.Download.ChunkSize,
		BufferedChunks: cfg.Download.BufferedChunks,
		MaxBytes:       cfg.Download.MaxFileSize,
		StartTimeout:   cfg.Download.StartTimeout,
		IdleTimeout:    cfg.Download.IdleTimeout,
	}, m)

	// Initialize handlers
	videoHandler := handlers.NewVideoHandler(resolver, transfers)
	healthHandler := handlers.NewHealthHandler(engine, version)

	r := router.NewRouter(cfg, videoHandler, healthHandler, limiter, m)

	// Start server
	go func() {
		logger.Infof("Starting server on %s", r.Addr())
		if err := r.Start(); err != nil {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := r.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server did not drain in-flight downloads: %v", err)
	}

	if err := limiter.Close(); err != nil {
		logger.Errorf("Failed to close rate limit store: %v", err)
	}

	logger.Info("Server shutdown complete")
}
