// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, a structured HTTP access logger
// that scrubs obvious PII and credential material from request metadata
// before anything reaches a log sink. A newsletter endpoint sees email
// addresses by design, so the default posture is strict:
//
//   - Never logs request or response bodies
//   - Redacts emails, UUIDs, and long token-like strings from query strings
//     and header values
//   - Fully masks sensitive headers (Authorization, Cookie, Set-Cookie,
//     X-Kit-Api-Key, plus any configured extras)
//
// This reduces but does not eliminate leak risk; clients should still avoid
// putting PII in query strings in the first place.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/hackmum/newsletter-service/internal/redact"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
// MaskHeaders lists extra header names (case-insensitive) whose values are
// replaced wholesale with a redaction marker, merged with the built-ins.
type RedactOptions struct {
	MaskHeaders []string
}

// uuidRE matches UUID-like identifiers. Redacted before the generic token
// pattern so its segments are not half-matched.
var uuidRE = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)

// RedactingLogger returns a Gin middleware that logs HTTP requests with
// sensitive values scrubbed: method, path, query, status, sizes, latency,
// and scrubbed request headers. Levels: info, warn for 4xx, error for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	scrub := func(s string) string {
		if s == "" {
			return s
		}
		return redact.Scrub(uuidRE.ReplaceAllString(s, "[REDACTED:id]"))
	}

	// Build header mask set (case-insensitive).
	maskHeaders := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
		"x-kit-api-key": {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := scrub(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = redact.Marker
				continue
			}
			safeHeaders[k] = scrub(strings.Join(vv, ", "))
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", latency).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
