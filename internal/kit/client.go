// Package kit implements a minimal client for the Kit (ConvertKit)
// subscriber API, the external system of record for newsletter signups.
//
// The client treats the upstream response shape as an opaque contract: it
// reads only what it needs (status codes, an existence indicator, duplicate
// hints in error bodies) and never echoes upstream bodies to callers.
// Every call carries a per-attempt timeout and passes through a shared
// token bucket so bursts from the website cannot hammer the upstream API.
package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/hackmum/newsletter-service/internal/config"
	"github.com/hackmum/newsletter-service/internal/redact"
)

// apiKeyHeader authenticates requests against the Kit API.
const apiKeyHeader = "X-Kit-Api-Key"

// maxErrorBody caps how much of an upstream error body is read for
// duplicate-detection and logging.
const maxErrorBody = 4 << 10

// kitReqs counts upstream calls by operation and coarse result.
var kitReqs = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "newsletter_kit_requests_total",
		Help: "Total number of requests made to the Kit subscriber API.",
	},
	[]string{"op", "result"},
)

func init() {
	prometheus.MustRegister(kitReqs)
}

// Subscriber is the payload sent to the Kit create-subscriber endpoint.
type Subscriber struct {
	EmailAddress string            `json:"email_address"`
	FirstName    string            `json:"first_name,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
}

// APIError is a non-2xx response from the Kit API. Body holds a scrubbed,
// size-capped excerpt used for duplicate detection and internal logs; it is
// never surfaced to end users.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("kit api: status %d", e.StatusCode)
}

// IndicatesDuplicate reports whether the error body suggests the subscriber
// already exists. Kit signals duplicates through 409s and some 422s whose
// bodies mention the existing record.
func (e *APIError) IndicatesDuplicate() bool {
	if e.StatusCode == http.StatusConflict {
		return true
	}
	if e.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	low := strings.ToLower(e.Body)
	return strings.Contains(low, "already") || strings.Contains(low, "exists") ||
		strings.Contains(low, "taken")
}

// Retryable reports whether err warrants another attempt: transport
// failures, per-attempt timeouts, and upstream 5xx responses. 4xx responses
// are terminal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	// Transport errors and deadline expiry; an expired parent context is not
	// worth retrying, but the caller's loop stops on ctx.Err() anyway.
	return true
}

// Client talks to the Kit subscriber API.
type Client struct {
	baseURL string
	apiKey  string
	formID  string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
}

// New constructs a Client from configuration. httpClient may be nil, in
// which case a default client is used (per-request timeouts come from
// contexts, not the client).
func New(cfg config.KitConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		formID:  cfg.FormID,
		timeout: cfg.Timeout,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
	}
}

// CreateSubscriber registers a subscriber upstream. A nil return means the
// upstream accepted the record; non-2xx responses come back as *APIError.
func (c *Client) CreateSubscriber(ctx context.Context, sub Subscriber) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, c.createURL(), body)
	if err != nil {
		kitReqs.WithLabelValues("create", "transport_error").Inc()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		kitReqs.WithLabelValues("create", "ok").Inc()
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	kitReqs.WithLabelValues("create", fmt.Sprintf("http_%d", resp.StatusCode)).Inc()
	return c.apiError(resp, sub.EmailAddress, "create subscriber")
}

// createURL targets the configured form so the signup enters that form's
// confirmation flow; without a form the account-level endpoint is used.
func (c *Client) createURL() string {
	if c.formID != "" {
		return c.baseURL + "/forms/" + url.PathEscape(c.formID) + "/subscribers"
	}
	return c.baseURL + "/subscribers"
}

// SubscriberExists checks whether an email is already registered upstream.
func (c *Client) SubscriberExists(ctx context.Context, email string) (bool, error) {
	u := c.baseURL + "/subscribers?email_address=" + url.QueryEscape(email)
	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		kitReqs.WithLabelValues("lookup", "transport_error").Inc()
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		kitReqs.WithLabelValues("lookup", "ok").Inc()
		io.Copy(io.Discard, resp.Body)
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		kitReqs.WithLabelValues("lookup", "ok").Inc()
		var out struct {
			Subscribers []json.RawMessage `json:"subscribers"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&out); err != nil {
			// Opaque contract: an unreadable success body is treated as
			// "not found" so the pipeline can continue via its own dedupe.
			return false, nil
		}
		return len(out.Subscribers) > 0, nil
	default:
		kitReqs.WithLabelValues("lookup", fmt.Sprintf("http_%d", resp.StatusCode)).Inc()
		return false, c.apiError(resp, email, "lookup subscriber")
	}
}

// do issues a single request with the client's auth header, pacing, and
// per-attempt timeout.
func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	// cancel must outlive the response body read; tie it to the body.
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// apiError drains a non-2xx response into an *APIError and logs it with the
// email masked and the body scrubbed.
func (c *Client) apiError(resp *http.Response, email, op string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Body:       redact.Scrub(string(raw)),
	}
	log.Warn().
		Str("op", op).
		Int("status", resp.StatusCode).
		Str("email", redact.Email(email)).
		Msg("kit api error")
	return apiErr
}

// cancelReadCloser releases the per-attempt timeout when the body is closed.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

// Close closes the body and cancels the attempt context.
func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
