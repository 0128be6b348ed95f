package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/hackmum/newsletter-service/internal/domain"
	"github.com/hackmum/newsletter-service/internal/kit"
	"github.com/hackmum/newsletter-service/internal/repo"
	"github.com/hackmum/newsletter-service/internal/validate"
)

// fakeKit scripts upstream responses per call.
type fakeKit struct {
	createErrs  []error // consumed one per CreateSubscriber call; nil = success
	createCalls int
	lastCreate  kit.Subscriber

	exists      bool
	existsErr   error
	existsCalls int
}

func (f *fakeKit) CreateSubscriber(_ context.Context, sub kit.Subscriber) error {
	f.lastCreate = sub
	f.createCalls++
	if f.createCalls <= len(f.createErrs) {
		return f.createErrs[f.createCalls-1]
	}
	return nil
}

func (f *fakeKit) SubscriberExists(context.Context, string) (bool, error) {
	f.existsCalls++
	return f.exists, f.existsErr
}

func newTestService(k KitAPI, configured bool) *SubscriptionService {
	s := NewSubscriptionService(k, repo.NewMemoryStore(), validate.New(nil), configured,
		3, time.Second, 5*time.Second)
	// No real sleeping in tests; record the requested delays instead.
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func apiErr(status int) error { return &kit.APIError{StatusCode: status} }

func TestSubscribe_ValidationFailureNoSideEffects(t *testing.T) {
	k := &fakeKit{}
	s := newTestService(k, true)

	_, err := s.Subscribe(context.Background(), SubscribeRequest{Email: "not-an-email"})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if k.createCalls != 0 || k.existsCalls != 0 {
		t.Errorf("validation failure must not touch upstream (create=%d exists=%d)",
			k.createCalls, k.existsCalls)
	}
	if n, _ := s.Store.Count(context.Background()); n != 0 {
		t.Errorf("no subscriber may be created, store has %d", n)
	}
}

func TestSubscribe_Success(t *testing.T) {
	k := &fakeKit{}
	s := newTestService(k, true)

	res, err := s.Subscribe(context.Background(), SubscribeRequest{
		Email:     "  Alice@Example.COM ",
		FirstName: "Alice",
		Source:    "blog_signup",
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if res.Email != "alice@example.com" {
		t.Errorf("Email = %q, want normalized", res.Email)
	}
	if res.Source != domain.SourceBlogSignup {
		t.Errorf("Source = %q", res.Source)
	}
	if res.Fallback {
		t.Error("healthy upstream should not use fallback")
	}
	if k.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", k.createCalls)
	}
	if k.lastCreate.EmailAddress != "alice@example.com" {
		t.Errorf("upstream payload email = %q", k.lastCreate.EmailAddress)
	}
}

func TestSubscribe_AlreadySubscribedUpstream(t *testing.T) {
	k := &fakeKit{exists: true}
	s := newTestService(k, true)

	_, err := s.Subscribe(context.Background(), SubscribeRequest{Email: "alice@example.com"})
	if !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}
	if k.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0", k.createCalls)
	}
}

func TestSubscribe_RetryThenSuccess(t *testing.T) {
	k := &fakeKit{createErrs: []error{apiErr(500), apiErr(500)}}
	s := newTestService(k, true)

	res, err := s.Subscribe(context.Background(), SubscribeRequest{Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if k.createCalls != 3 {
		t.Errorf("createCalls = %d, want exactly 3", k.createCalls)
	}
	if res.Fallback {
		t.Error("third attempt succeeded upstream, no fallback expected")
	}
}

func TestSubscribe_TerminalClientErrorNoRetry(t *testing.T) {
	k := &fakeKit{createErrs: []error{apiErr(http.StatusBadRequest)}}
	s := newTestService(k, true)

	_, err := s.Subscribe(context.Background(), SubscribeRequest{Email: "alice@example.com"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if k.createCalls != 1 {
		t.Errorf("createCalls = %d, want exactly 1", k.createCalls)
	}
	if n, _ := s.Store.Count(context.Background()); n != 0 {
		t.Error("terminal rejection must not write fallback")
	}
}

func TestSubscribe_TerminalErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusBadRequest, "", ErrInvalidRequest},
		{http.StatusUnauthorized, "", ErrServiceUnavailable},
		{http.StatusForbidden, "", ErrBlocked},
		{http.StatusConflict, "", ErrAlreadySubscribed},
		{http.StatusUnprocessableEntity, "email already taken", ErrAlreadySubscribed},
		{http.StatusUnprocessableEntity, "email invalid", ErrInvalidRequest},
		{http.StatusTooManyRequests, "", ErrUpstreamRateLimited},
	}
	for _, tc := range cases {
		k := &fakeKit{createErrs: []error{&kit.APIError{StatusCode: tc.status, Body: tc.body}}}
		s := newTestService(k, true)

		_, err := s.Subscribe(context.Background(), SubscribeRequest{Email: "alice@example.com"})
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d body %q: got %v, want %v", tc.status, tc.body, err, tc.want)
		}
	}
}

func TestSubscribe_ExhaustedRetriesFallsBack(t *testing.T) {
	k := &fakeKit{createErrs: []error{apiErr(500), apiErr(503), apiErr(500)}}
	s := newTestService(k, true)

	res, err := s.Subscribe(context.Background(), SubscribeRequest{Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("Subscribe should succeed via fallback, got %v", err)
	}
	if !res.Fallback {
		t.Error("Fallback flag not set")
	}
	if k.createCalls != 3 {
		t.Errorf("createCalls = %d, want 3", k.createCalls)
	}
	exists, _ := s.Store.Exists(context.Background(), "alice@example.com")
	if !exists {
		t.Error("subscriber missing from fallback store")
	}
}

func TestSubscribe_UnconfiguredUsesFallbackOnly(t *testing.T) {
	s := newTestService(nil, false)

	res, err := s.Subscribe(context.Background(), SubscribeRequest{Email: "new@example.com"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !res.Fallback {
		t.Error("unconfigured mode must report fallback")
	}
	if !s.CheckExisting(context.Background(), "new@example.com") {
		t.Error("CheckExisting should find the fallback-stored subscriber")
	}
}

func TestSubscribe_DuplicateInFallback(t *testing.T) {
	s := newTestService(nil, false)
	ctx := context.Background()

	if _, err := s.Subscribe(ctx, SubscribeRequest{Email: "dup@example.com"}); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	_, err := s.Subscribe(ctx, SubscribeRequest{Email: "dup@example.com"})
	if !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("second Subscribe = %v, want ErrAlreadySubscribed", err)
	}
}

func TestSubscribe_ExistenceCheckDegradesToFallbackStore(t *testing.T) {
	k := &fakeKit{existsErr: errors.New("connection refused")}
	s := newTestService(k, true)
	ctx := context.Background()

	// Seed the fallback store directly.
	if err := s.Store.Add(ctx, &domain.Subscriber{Email: "local@example.com"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := s.Subscribe(ctx, SubscribeRequest{Email: "local@example.com"})
	if !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed via fallback lookup, got %v", err)
	}
}

func TestBackoffSchedule(t *testing.T) {
	var delays []time.Duration
	k := &fakeKit{createErrs: []error{apiErr(500), apiErr(500), apiErr(500)}}
	s := newTestService(k, true)
	s.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	if _, err := s.Subscribe(context.Background(), SubscribeRequest{Email: "a@b.co"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	want := []time.Duration{time.Second, 2 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestBackoffCap(t *testing.T) {
	s := newTestService(&fakeKit{}, true)
	if d := s.backoff(1); d != time.Second {
		t.Errorf("backoff(1) = %v", d)
	}
	if d := s.backoff(2); d != 2*time.Second {
		t.Errorf("backoff(2) = %v", d)
	}
	if d := s.backoff(4); d != 5*time.Second {
		t.Errorf("backoff(4) = %v, want capped at 5s", d)
	}
}

func TestSubscribe_CanceledDuringBackoff(t *testing.T) {
	k := &fakeKit{createErrs: []error{apiErr(500), apiErr(500), apiErr(500)}}
	s := newTestService(k, true)
	s.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	_, err := s.Subscribe(context.Background(), SubscribeRequest{Email: "a@b.co"})
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable on teardown, got %v", err)
	}
	if k.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1 (canceled before retry)", k.createCalls)
	}
}
