// Command server runs the newsletter subscription API for the Hackerspace
// Mumbai community site: the intake pipeline endpoint, health endpoint for
// deployment tooling, and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hackmum/newsletter-service/internal/config"
	httpapi "github.com/hackmum/newsletter-service/internal/http"
	"github.com/hackmum/newsletter-service/internal/kit"
	"github.com/hackmum/newsletter-service/internal/observability"
	"github.com/hackmum/newsletter-service/internal/redact"
	"github.com/hackmum/newsletter-service/internal/repo"
	"github.com/hackmum/newsletter-service/internal/services"
	"github.com/hackmum/newsletter-service/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments use actual environment variables.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().
		Str("version", version).
		Str("environment", cfg.Environment).
		Bool("kit_configured", cfg.Kit.Configured()).
		Str("kit_api_key", redact.Secret(cfg.Kit.APIKey)).
		Msg("starting newsletter service")

	// Tracing
	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}

	// Fallback subscriber store: durable sqlite when a path is configured,
	// process-local memory otherwise.
	var store repo.SubscriberStore
	if cfg.DBPath != "" {
		db, err := repo.OpenSQLite(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open fallback store")
		}
		if err := repo.AutoMigrate(db); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate fallback store")
		}
		store = repo.NewGormStore(db)
	} else {
		log.Warn().Msg("DB_PATH empty, fallback store is in-memory only")
		store = repo.NewMemoryStore()
	}

	// Upstream client only when credentials are present.
	var kitAPI services.KitAPI
	if cfg.Kit.Configured() {
		kitAPI = kit.New(cfg.Kit, nil)
	} else {
		log.Warn().Msg("kit credentials not configured, running in fallback-only mode")
	}

	// Router
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, store, kitAPI, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown failed")
	}
}
