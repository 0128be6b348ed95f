package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hackmum/newsletter-service/internal/config"
	"github.com/hackmum/newsletter-service/internal/kit"
	"github.com/hackmum/newsletter-service/internal/repo"
	"github.com/hackmum/newsletter-service/internal/services"
)

// okKit accepts every upstream call.
type okKit struct{ created int }

func (k *okKit) CreateSubscriber(context.Context, kit.Subscriber) error { k.created++; return nil }
func (k *okKit) SubscriberExists(context.Context, string) (bool, error) { return false, nil }

func testConfig() config.Config {
	return config.Config{
		GinMode:     gin.TestMode,
		APIBasePath: "/api/v1",
		Environment: "test",
		Kit: config.KitConfig{
			APIKey:      "kit_test_key",
			FormID:      "12345",
			BaseURL:     "http://kit.invalid",
			Timeout:     time.Second,
			MaxAttempts: 3,
			BackoffBase: time.Millisecond,
			BackoffCap:  5 * time.Millisecond,
			RPS:         100,
			Burst:       10,
		},
		RateLimit: config.RateLimitConfig{Max: 5, Window: 15 * time.Minute},
		OTEL:      config.OTELConfig{ServiceName: "newsletter-service-test"},
	}
}

func newTestRouter(t *testing.T, kitAPI services.KitAPI, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, repo.NewMemoryStore(), kitAPI, cfg)
	return r
}

func subscribeReq(body, forwardedFor string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/newsletter/subscribe", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouterSubscribeSuccess(t *testing.T) {
	k := &okKit{}
	r := newTestRouter(t, k, testConfig())

	w := serve(r, subscribeReq(`{"email":"alice@example.com","firstName":"Alice","source":"blog_signup"}`, "203.0.113.1"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Email  string `json:"email"`
			Source string `json:"source"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !resp.Success {
		t.Error("success should be true")
	}
	if resp.Data.Email != "alice@example.com" {
		t.Errorf("data.email = %q", resp.Data.Email)
	}
	if resp.Data.Source != "blog_signup" {
		t.Errorf("data.source = %q", resp.Data.Source)
	}
	if k.created != 1 {
		t.Errorf("upstream created = %d, want 1", k.created)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID missing from response")
	}
}

func TestRouterSubscribeValidationFailure(t *testing.T) {
	r := newTestRouter(t, &okKit{}, testConfig())

	w := serve(r, subscribeReq(`{"email":"not-an-email"}`, "203.0.113.2"))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	if !strings.Contains(w.Body.String(), "valid email address") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRouterSubscribeDisposableDomain(t *testing.T) {
	r := newTestRouter(t, &okKit{}, testConfig())

	w := serve(r, subscribeReq(`{"email":"someone@mailinator.com"}`, "203.0.113.3"))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Temporary email") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRouterRateLimitSixthAttempt(t *testing.T) {
	r := newTestRouter(t, &okKit{}, testConfig())

	// Distinct emails so the duplicate check never interferes; same client.
	emails := []string{
		`{"email":"a1@example.com"}`,
		`{"email":"a2@example.com"}`,
		`{"email":"a3@example.com"}`,
		`{"email":"a4@example.com"}`,
		`{"email":"a5@example.com"}`,
	}
	for i, body := range emails {
		if w := serve(r, subscribeReq(body, "198.51.100.9")); w.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, body = %s", i+1, w.Code, w.Body.String())
		}
	}

	w := serve(r, subscribeReq(`{"email":"a6@example.com"}`, "198.51.100.9"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("6th attempt: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	// A different client is unaffected.
	if w := serve(r, subscribeReq(`{"email":"b1@example.com"}`, "198.51.100.10")); w.Code != http.StatusOK {
		t.Errorf("other client: status = %d", w.Code)
	}
}

func TestRouterDuplicateSubscription(t *testing.T) {
	cfg := testConfig()
	cfg.Kit = config.KitConfig{} // fallback-only keeps duplicates local
	r := newTestRouter(t, nil, cfg)

	if w := serve(r, subscribeReq(`{"email":"dup@example.com"}`, "203.0.113.4")); w.Code != http.StatusOK {
		t.Fatalf("first subscribe: status = %d", w.Code)
	}
	w := serve(r, subscribeReq(`{"email":"dup@example.com"}`, "203.0.113.4"))
	if w.Code != http.StatusConflict {
		t.Fatalf("second subscribe: status = %d, want 409", w.Code)
	}
	if !strings.Contains(w.Body.String(), "already subscribed") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRouterPreflight(t *testing.T) {
	r := newTestRouter(t, &okKit{}, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/newsletter/subscribe", nil)
	req.Header.Set("Origin", "https://hackmum.in")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := serve(r, req)

	if w.Code != http.StatusOK {
		t.Fatalf("preflight status = %d, want 200", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Access-Control-Allow-Origin missing")
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	r := newTestRouter(t, &okKit{}, testConfig())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/newsletter/subscribe", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}

func TestRouterNotFound(t *testing.T) {
	r := newTestRouter(t, &okKit{}, testConfig())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestRouterHealth(t *testing.T) {
	r := newTestRouter(t, &okKit{}, testConfig())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRouterMetricsExposed(t *testing.T) {
	r := newTestRouter(t, &okKit{}, testConfig())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
