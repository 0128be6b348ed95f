// Health HTTP handler.
//
// This file exposes the health endpoint consumed by deployment tooling:
//   - GET /health
//
// The report aggregates three checks: upstream API configuration, required
// environment, and process memory. Overall status maps healthy/degraded to
// HTTP 200 and unhealthy to 503, so load balancers only eject an instance
// when it genuinely cannot serve.
package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hackmum/newsletter-service/internal/repo"
)

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Memory thresholds for the heap-in-use check.
const (
	memElevatedBytes = 256 << 20 // degraded above this
	memCriticalBytes = 512 << 20 // unhealthy above this
)

// HealthChecker produces health reports for the service instance.
type HealthChecker struct {
	KitConfigured bool
	Environment   string
	Store         repo.SubscriberStore
	StartedAt     time.Time
}

// NewHealthChecker constructs a HealthChecker anchored at the current time.
func NewHealthChecker(kitConfigured bool, environment string, store repo.SubscriberStore) *HealthChecker {
	return &HealthChecker{
		KitConfigured: kitConfigured,
		Environment:   environment,
		Store:         store,
		StartedAt:     time.Now(),
	}
}

// HealthResponse is the JSON health report.
type HealthResponse struct {
	Status        string            `json:"status" example:"healthy"`
	Timestamp     time.Time         `json:"timestamp"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	MemoryUsage   *MemoryUsage      `json:"memory_usage,omitempty"`
}

// MemoryUsage reports process heap figures in mebibytes.
type MemoryUsage struct {
	HeapInUseMiB uint64 `json:"heap_in_use_mib"`
	HeapSysMiB   uint64 `json:"heap_sys_mib"`
	NumGC        uint32 `json:"num_gc"`
}

// Report runs all checks and aggregates the overall status. A degraded
// check downgrades healthy; any unhealthy check wins.
func (hc *HealthChecker) Report(ctx context.Context) HealthResponse {
	checks := make(map[string]string, 3)
	status := StatusHealthy

	degrade := func() {
		if status == StatusHealthy {
			status = StatusDegraded
		}
	}

	// Upstream API: running without credentials still serves signups via
	// the fallback store, but the instance is degraded.
	if hc.KitConfigured {
		checks["kit_api"] = "configured"
	} else {
		checks["kit_api"] = "fallback_only"
		degrade()
	}

	// Environment: the label must be set, and the fallback store reachable.
	if hc.Environment == "" {
		checks["environment"] = "incomplete"
		degrade()
	} else if hc.Store != nil {
		if _, err := hc.Store.Count(ctx); err != nil {
			checks["environment"] = "storage_error"
			status = StatusUnhealthy
		} else {
			checks["environment"] = "ok"
		}
	} else {
		checks["environment"] = "ok"
	}

	// Memory: heap pressure thresholds.
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	switch {
	case ms.HeapInuse > memCriticalBytes:
		checks["memory"] = "critical"
		status = StatusUnhealthy
	case ms.HeapInuse > memElevatedBytes:
		checks["memory"] = "elevated"
		degrade()
	default:
		checks["memory"] = "ok"
	}

	return HealthResponse{
		Status:        status,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: time.Since(hc.StartedAt).Seconds(),
		Checks:        checks,
		MemoryUsage: &MemoryUsage{
			HeapInUseMiB: ms.HeapInuse >> 20,
			HeapSysMiB:   ms.HeapSys >> 20,
			NumGC:        ms.NumGC,
		},
	}
}

// Health godoc
// @ID          healthCheck
// @Summary     Service health
// @Description Reports instance health for deployment tooling. Healthy and degraded map to 200; unhealthy maps to 503.
// @Tags        Operations
// @Produce     json
//
// @Success     200  {object}  handlers.HealthResponse
// @Failure     503  {object}  handlers.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	rep := h.health.Report(c.Request.Context())
	status := http.StatusOK
	if rep.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, rep)
}
