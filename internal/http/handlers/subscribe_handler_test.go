package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hackmum/newsletter-service/internal/domain"
	"github.com/hackmum/newsletter-service/internal/repo"
	"github.com/hackmum/newsletter-service/internal/services"
)

// fakeSubSvc returns a scripted result or error.
type fakeSubSvc struct {
	res *services.SubscribeResult
	err error

	gotReq services.SubscribeRequest
}

func (f *fakeSubSvc) Subscribe(_ context.Context, req services.SubscribeRequest) (*services.SubscribeResult, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func newSubscribeRouter(svc SubscriptionService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := New(svc, NewHealthChecker(true, "test", repo.NewMemoryStore()))
	r.POST("/newsletter/subscribe", h.Subscribe)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/newsletter/subscribe", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return er
}

func TestSubscribe_Success(t *testing.T) {
	svc := &fakeSubSvc{res: &services.SubscribeResult{
		Email:     "alice@example.com",
		FirstName: "Alice",
		Source:    domain.SourceWebsiteNewsletter,
		Timestamp: time.Now().UTC(),
	}}
	r := newSubscribeRouter(svc)

	w := postJSON(t, r, `{"email":"alice@example.com","firstName":"Alice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool          `json:"success"`
		Message string        `json:"message"`
		Data    SubscribeData `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !resp.Success {
		t.Error("success should be true")
	}
	if !strings.Contains(resp.Message, "subscribed") {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.Data.Email != "alice@example.com" {
		t.Errorf("data.email = %q", resp.Data.Email)
	}
	if svc.gotReq.FirstName != "Alice" {
		t.Errorf("service got firstName = %q", svc.gotReq.FirstName)
	}
}

func TestSubscribe_MalformedJSON(t *testing.T) {
	r := newSubscribeRouter(&fakeSubSvc{})

	w := postJSON(t, r, `{"email": `)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if er := decodeError(t, w); er.Code != ErrCodeBadRequest {
		t.Errorf("code = %q", er.Code)
	}
}

func TestSubscribe_MissingEmail(t *testing.T) {
	r := newSubscribeRouter(&fakeSubSvc{})

	w := postJSON(t, r, `{"firstName":"Alice"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if er := decodeError(t, w); !strings.Contains(er.Error, "Email address is required") {
		t.Errorf("error = %q", er.Error)
	}
}

func TestSubscribe_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retryAfter bool
	}{
		{"validation", domain.NewValidationError("email", domain.CodeInvalidFormat, "Please provide a valid email address"),
			http.StatusUnprocessableEntity, ErrCodeValidationFailed, false},
		{"already subscribed", services.ErrAlreadySubscribed,
			http.StatusConflict, ErrCodeAlreadySubscribed, false},
		{"invalid request", services.ErrInvalidRequest,
			http.StatusUnprocessableEntity, ErrCodeValidationFailed, false},
		{"blocked", services.ErrBlocked,
			http.StatusForbidden, ErrCodeForbidden, false},
		{"upstream rate limited", services.ErrUpstreamRateLimited,
			http.StatusTooManyRequests, ErrCodeRateLimited, true},
		{"unavailable", services.ErrServiceUnavailable,
			http.StatusServiceUnavailable, ErrCodeServiceUnavailable, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newSubscribeRouter(&fakeSubSvc{err: tc.err})
			w := postJSON(t, r, `{"email":"alice@example.com"}`)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			if er := decodeError(t, w); er.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", er.Code, tc.wantCode)
			}
			if tc.retryAfter && w.Header().Get("Retry-After") == "" {
				t.Error("Retry-After header missing")
			}
		})
	}
}

func TestSubscribe_ValidationMessagePassthrough(t *testing.T) {
	r := newSubscribeRouter(&fakeSubSvc{
		err: domain.NewValidationError("email", domain.CodeBlockedDomain, "Temporary email addresses are not allowed"),
	})
	w := postJSON(t, r, `{"email":"x@mailinator.com"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	if er := decodeError(t, w); !strings.Contains(er.Error, "Temporary email") {
		t.Errorf("error = %q, want the validator's message verbatim", er.Error)
	}
}

func TestSubscribe_UnexpectedErrorIsOpaque(t *testing.T) {
	r := newSubscribeRouter(&fakeSubSvc{err: context.DeadlineExceeded})
	w := postJSON(t, r, `{"email":"alice@example.com"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "deadline") {
		t.Error("internal error text leaked to the client")
	}
}
