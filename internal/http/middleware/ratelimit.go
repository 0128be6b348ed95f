// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements a lightweight, in-memory, fixed-window rate limiter
// with per-identity counters and opportunistic garbage collection. Each
// client key gets a bounded number of subscription attempts per window;
// the counter resets when the window expires.
//
// Notes:
//   - The limiter is process-local and therefore best-effort: a freshly
//     started instance starts counting from zero. Cross-instance limiting
//     would need an external store and is out of scope.
//   - Expired windows are evicted opportunistically during lookups to keep
//     memory bounded on long-lived instances.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// keyFunc selects the identity used to key a rate-limit window. It should
// return a stable string for the duration of a request.
type keyFunc func(*gin.Context) string

// KeyByClientIP returns a keyFunc that uses the first address in the
// X-Forwarded-For chain, falling back to Gin's client IP resolution, and
// finally to the literal "unknown". All unidentified clients therefore
// share one window; conservative, and flagged in the service docs.
func KeyByClientIP() keyFunc {
	return func(c *gin.Context) string {
		if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
			if first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0]); first != "" {
				return "ip:" + first
			}
		}
		if ip := c.ClientIP(); ip != "" {
			return "ip:" + ip
		}
		return "unknown"
	}
}

// windowEntry tracks one client's attempts within the current window.
type windowEntry struct {
	attempts int
	resetAt  time.Time
}

// WindowLimiter implements a per-key fixed-window rate limiter.
//
// Entries are created on demand in an internal map guarded by a mutex.
// Expired entries are evicted during lookups after a threshold of
// operations. Safe for concurrent use.
type WindowLimiter struct {
	max    int
	window time.Duration
	keyFn  keyFunc

	mu      sync.Mutex
	clients map[string]*windowEntry

	cleanupN uint64
	now      func() time.Time // test seam
}

// NewWindowLimiter constructs a WindowLimiter allowing max attempts per
// window, keyed by keyFn. max <= 0 is coerced to 1.
func NewWindowLimiter(max int, window time.Duration, keyFn keyFunc) *WindowLimiter {
	if max <= 0 {
		max = 1
	}
	return &WindowLimiter{
		max:     max,
		window:  window,
		keyFn:   keyFn,
		clients: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// Allow records an attempt for key and reports whether it is within the
// window budget. When rejected, retryAfter is the time remaining until the
// window resets.
func (wl *WindowLimiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	now := wl.now()

	wl.mu.Lock()
	defer wl.mu.Unlock()

	// Opportunistic cleanup of expired windows, before touching the
	// requested entry so a stale entry for this key is also reset cheaply.
	wl.cleanupN++
	if wl.cleanupN >= 5000 {
		for k, e := range wl.clients {
			if !now.Before(e.resetAt) {
				delete(wl.clients, k)
			}
		}
		wl.cleanupN = 0
	}

	e, ok := wl.clients[key]
	if !ok || !now.Before(e.resetAt) {
		wl.clients[key] = &windowEntry{attempts: 1, resetAt: now.Add(wl.window)}
		return true, 0
	}
	if e.attempts >= wl.max {
		return false, e.resetAt.Sub(now)
	}
	e.attempts++
	return true, 0
}

// Handler returns a Gin middleware that enforces the window limit. Rejected
// requests receive 429 with a Retry-After header (seconds) and a message
// naming the remaining wait rounded up to whole minutes. Allowed requests
// proceed untouched; rejection happens before any handler side effect.
func (wl *WindowLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := wl.Allow(wl.keyFn(c))
		if allowed {
			c.Next()
			return
		}

		secs := int(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		mins := (secs + 59) / 60

		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success":    false,
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"error":      "Too many subscription attempts. Please try again in " + strconv.Itoa(mins) + " minute(s).",
		})
	}
}
