// Package httpapi wires the HTTP transport (Gin) to the subscription
// pipeline, middleware, and route handlers. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, logging/redaction, panic
// recovery, metrics, CORS, security headers, and rate limiting.
//
// Design goals:
//   - Observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/hackmum/newsletter-service/internal/config"
	"github.com/hackmum/newsletter-service/internal/http/handlers"
	"github.com/hackmum/newsletter-service/internal/http/middleware"
	"github.com/hackmum/newsletter-service/internal/repo"
	"github.com/hackmum/newsletter-service/internal/services"
	"github.com/hackmum/newsletter-service/internal/validate"
)

// maxBodyBytes caps subscription request bodies. The payload is three short
// strings; anything bigger is noise or abuse.
const maxBodyBytes = 64 << 10

// RegisterRoutes attaches all middleware and HTTP endpoints to the given
// Gin engine. kitAPI may be nil when upstream credentials are not
// configured; the pipeline then runs in fallback-only mode.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter + gzip
//  6. Metrics
//  7. CORS and security headers
//
// The per-client window limiter mounts on the subscribe route only, so
// health probes and metrics scrapes are never throttled.
func RegisterRoutes(r *gin.Engine, store repo.SubscriberStore, kitAPI services.KitAPI, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Body size limit and response compression
	r.Use(limitBody(maxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured).
	// Preflight responses use 200 with an empty body; the site's fetch
	// wrappers treat anything else as a failure.
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:           true,
			AllowMethods:              []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:              []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:             []string{"X-Request-ID", "Content-Length", "Retry-After"},
			AllowCredentials:          false, // must remain false with AllowAllOrigins
			MaxAge:                    12 * time.Hour,
			OptionsResponseStatusCode: http.StatusOK,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:              cfg.CORS.AllowedOrigins,
			AllowMethods:              []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:              []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:             []string{"X-Request-ID", "Content-Length", "Retry-After"},
			AllowCredentials:          false,
			MaxAge:                    12 * time.Hour,
			OptionsResponseStatusCode: http.StatusOK,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Dependency injection: pipeline ← validator/store/kit client
	v := validate.New(cfg.BlockedDomains)
	subSvc := services.NewSubscriptionService(
		kitAPI,
		store,
		v,
		cfg.Kit.Configured() && kitAPI != nil,
		cfg.Kit.MaxAttempts,
		cfg.Kit.BackoffBase,
		cfg.Kit.BackoffCap,
	)
	health := handlers.NewHealthChecker(cfg.Kit.Configured(), cfg.Environment, store)
	h := handlers.New(subSvc, health)

	// Liveness/health
	r.GET("/health", h.Health)

	// Per-client fixed-window limiter guards the intake pipeline only.
	wl := middleware.NewWindowLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window, middleware.KeyByClientIP())

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath) // e.g. "/api/v1"
	{
		api.POST("/newsletter/subscribe", wl.Handler(), h.Subscribe)
	}
}

// limitBody returns a Gin middleware that caps the request body size for
// all endpoints using http.MaxBytesReader. Requests exceeding the cap cause
// downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
