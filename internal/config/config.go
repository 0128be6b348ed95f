// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// logging, the Kit email-marketing API credentials and retry policy, rate
// limiting, fallback storage, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hackmum/newsletter-service/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "newsletter-service")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// KitConfig holds the external Kit (ConvertKit) API settings. When APIKey or
// FormID is empty the registrar runs in fallback-only mode: subscribers are
// written straight to local storage and no upstream calls are made.
type KitConfig struct {
	APIKey      string        // KIT_API_KEY (secret; never logged verbatim)
	FormID      string        // KIT_FORM_ID
	BaseURL     string        // KIT_API_URL
	Timeout     time.Duration // per-attempt request timeout
	MaxAttempts int           // total attempts including the first
	BackoffBase time.Duration // first retry delay, doubles each attempt
	BackoffCap  time.Duration // upper bound for a single retry delay
	RPS         float64       // outbound token-bucket refill rate
	Burst       int           // outbound token-bucket size
}

// Configured reports whether upstream credentials are present.
func (k KitConfig) Configured() bool {
	return strings.TrimSpace(k.APIKey) != "" && strings.TrimSpace(k.FormID) != ""
}

// RateLimitConfig bounds subscription attempts per client key within a
// fixed window.
type RateLimitConfig struct {
	Max    int           // attempts allowed per window
	Window time.Duration // window length per client key
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	APIBasePath string // base path for API routes
	DBPath      string // SQLite path for the fallback store; empty = in-memory
	Environment string // deployment environment label (production|development|...)

	// Upstream subscriber API
	Kit KitConfig

	// Validation
	BlockedDomains []string // extra disposable-email domains (merged with built-ins)

	// Rate limiting
	RateLimit RateLimitConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
		DBPath:      getenv("DB_PATH", "newsletter.db"),
		Environment: strings.ToLower(sysutil.FirstNonEmpty(os.Getenv("NODE_ENV"), os.Getenv("APP_ENV"), "development")),

		// Upstream subscriber API
		Kit: KitConfig{
			APIKey:      os.Getenv("KIT_API_KEY"),
			FormID:      os.Getenv("KIT_FORM_ID"),
			BaseURL:     strings.TrimRight(getenv("KIT_API_URL", "https://api.kit.com/v4"), "/"),
			Timeout:     getdur("KIT_TIMEOUT", 10*time.Second),
			MaxAttempts: getint("KIT_MAX_ATTEMPTS", 3),
			BackoffBase: getdur("KIT_BACKOFF_BASE", time.Second),
			BackoffCap:  getdur("KIT_BACKOFF_CAP", 5*time.Second),
			RPS:         getfloat("KIT_RPS", 10.0),
			Burst:       getint("KIT_BURST", 5),
		},

		// Validation
		BlockedDomains: splitCSV(getenv("BLOCKED_DOMAINS", "")),

		// Rate limiting
		RateLimit: RateLimitConfig{
			Max:    getint("RATE_LIMIT_MAX", 5),
			Window: getdur("RATE_LIMIT_WINDOW", 15*time.Minute),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(sysutil.FirstNonEmpty(os.Getenv("CORS_ALLOWED_ORIGINS"), os.Getenv("CORS_ORIGIN"))),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "newsletter-service"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.Kit.BaseURL) == "" {
		return cfg, errors.New("KIT_API_URL must not be empty")
	}
	if cfg.Kit.Timeout <= 0 {
		return cfg, errors.New("KIT_TIMEOUT must be > 0")
	}
	if cfg.Kit.MaxAttempts < 1 {
		return cfg, errors.New("KIT_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Kit.BackoffBase <= 0 || cfg.Kit.BackoffCap < cfg.Kit.BackoffBase {
		return cfg, errors.New("KIT_BACKOFF_CAP must be >= KIT_BACKOFF_BASE > 0")
	}
	if cfg.Kit.RPS <= 0 {
		return cfg, errors.New("KIT_RPS must be > 0")
	}
	if cfg.Kit.Burst < 1 {
		return cfg, errors.New("KIT_BURST must be >= 1")
	}
	if cfg.RateLimit.Max < 1 {
		return cfg, errors.New("RATE_LIMIT_MAX must be >= 1")
	}
	if cfg.RateLimit.Window <= 0 {
		return cfg, errors.New("RATE_LIMIT_WINDOW must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if sysutil.IsTruthy(v) {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
