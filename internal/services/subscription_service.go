// Package services – SubscriptionService
//
// This file implements SubscriptionService, the application-level component
// that owns the subscription intake pipeline: input validation, the
// existing-subscription check, upstream registration with retry and
// exponential backoff, and the local fallback that keeps signups from being
// lost when the upstream API is down or unconfigured.
//
// Observability: public methods are OpenTelemetry-instrumented; all log
// output carries masked emails and scrubbed error text only.
package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackmum/newsletter-service/internal/domain"
	"github.com/hackmum/newsletter-service/internal/kit"
	"github.com/hackmum/newsletter-service/internal/redact"
	"github.com/hackmum/newsletter-service/internal/repo"
	"github.com/hackmum/newsletter-service/internal/validate"
)

// subsTotal counts completed subscription attempts by outcome.
var subsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "newsletter_subscriptions_total",
		Help: "Total number of processed subscription requests by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(subsTotal)
}

// KitAPI is the upstream subscriber API contract consumed by the service.
// *kit.Client satisfies it; tests substitute fakes.
type KitAPI interface {
	// CreateSubscriber registers a subscriber upstream.
	CreateSubscriber(ctx context.Context, sub kit.Subscriber) error

	// SubscriberExists checks whether an email is already registered
	// upstream.
	SubscriberExists(ctx context.Context, email string) (bool, error)
}

// SubscribeRequest is the validated-on-entry input to the pipeline. Raw
// values straight from the HTTP layer are fine; the service sanitizes and
// validates before any side effect.
type SubscribeRequest struct {
	Email     string
	FirstName string
	Source    string
}

// SubscribeResult describes a successful subscription.
type SubscribeResult struct {
	Email     string
	FirstName string
	Source    string
	Timestamp time.Time
	// Fallback is true when the subscriber was written to local storage
	// instead of (or after exhausting retries against) the upstream API.
	Fallback bool
}

// SubscriptionService coordinates the intake pipeline. Construct with
// NewSubscriptionService; the zero value is not usable.
type SubscriptionService struct {
	Kit        KitAPI
	Store      repo.SubscriberStore
	Validator  *validate.Validator
	Configured bool // upstream credentials present

	// Retry policy for upstream registration.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Seams for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSubscriptionService wires the pipeline with its collaborators and
// retry policy. kitAPI may be nil when configured is false.
func NewSubscriptionService(kitAPI KitAPI, store repo.SubscriberStore, v *validate.Validator, configured bool, maxAttempts int, backoffBase, backoffCap time.Duration) *SubscriptionService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &SubscriptionService{
		Kit:         kitAPI,
		Store:       store,
		Validator:   v,
		Configured:  configured,
		MaxAttempts: maxAttempts,
		BackoffBase: backoffBase,
		BackoffCap:  backoffCap,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Subscribe runs the full pipeline for one request: validate, check for an
// existing subscription, register (with retries and fallback), then fire
// best-effort confirmation and event logging. Validation failures return
// *domain.ValidationError; other failures return the sentinel errors from
// this package.
func (s *SubscriptionService) Subscribe(ctx context.Context, req SubscribeRequest) (*SubscribeResult, error) {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "Subscribe",
		trace.WithAttributes(attribute.String("subscription.source", req.Source)),
	)
	defer span.End()

	// Validate before any side effect; only sanitized values travel on.
	email, err := s.Validator.Email(req.Email)
	if err != nil {
		subsTotal.WithLabelValues("validation_failed").Inc()
		return nil, err
	}
	firstName, err := s.Validator.FirstName(req.FirstName)
	if err != nil {
		subsTotal.WithLabelValues("validation_failed").Inc()
		return nil, err
	}
	source := domain.NormalizeSource(req.Source)

	// Idempotence: one active subscriber per normalized email.
	exists, err := s.checkExisting(ctx, email)
	if err == nil && exists {
		subsTotal.WithLabelValues("already_subscribed").Inc()
		return nil, ErrAlreadySubscribed
	}

	res, err := s.register(ctx, email, firstName, source)
	if err != nil {
		subsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}

	// Best-effort tail: neither confirmation nor event logging can fail the
	// request.
	s.sendConfirmationEmail(email)
	s.logSubscriptionEvent(email, source, res.Fallback)

	if res.Fallback {
		subsTotal.WithLabelValues("fallback").Inc()
	} else {
		subsTotal.WithLabelValues("subscribed").Inc()
	}
	return res, nil
}

// CheckExisting reports whether email (already normalized) is registered,
// preferring the upstream API and degrading to the fallback store on any
// upstream error. It never fails: degraded lookups are logged, not
// propagated.
func (s *SubscriptionService) CheckExisting(ctx context.Context, email string) bool {
	exists, err := s.checkExisting(ctx, email)
	return err == nil && exists
}

func (s *SubscriptionService) checkExisting(ctx context.Context, email string) (bool, error) {
	if s.Configured && s.Kit != nil {
		exists, err := s.Kit.SubscriberExists(ctx, email)
		if err == nil {
			if exists {
				return true, nil
			}
			// Upstream says no; a fallback-stored signup still counts.
			return s.Store.Exists(ctx, email)
		}
		log.Warn().
			Str("email", redact.Email(email)).
			Str("error", redact.Err(err)).
			Msg("upstream existence check failed, using fallback store")
	}
	return s.Store.Exists(ctx, email)
}

// register attempts upstream registration with retry/backoff, writing to
// the fallback store when unconfigured or when every retryable attempt is
// exhausted. Terminal upstream rejections (4xx) surface immediately.
func (s *SubscriptionService) register(ctx context.Context, email, firstName, source string) (*SubscribeResult, error) {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "register",
		trace.WithAttributes(attribute.String("subscription.source", source)),
	)
	defer span.End()

	result := &SubscribeResult{
		Email:     email,
		FirstName: firstName,
		Source:    source,
		Timestamp: s.now().UTC(),
	}

	if !s.Configured || s.Kit == nil {
		if err := s.storeFallback(ctx, email, firstName, source); err != nil {
			return nil, err
		}
		result.Fallback = true
		return result, nil
	}

	sub := kit.Subscriber{
		EmailAddress: email,
		FirstName:    firstName,
		Tags:         []string{"hackerspace-mumbai", source},
		Fields:       map[string]string{"signup_source": source},
	}

	var lastErr error
	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		err := s.Kit.CreateSubscriber(ctx, sub)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var apiErr *kit.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return nil, mapAPIError(apiErr)
		}
		if !kit.Retryable(err) {
			break
		}

		log.Warn().
			Int("attempt", attempt).
			Int("max_attempts", s.MaxAttempts).
			Str("email", redact.Email(email)).
			Str("error", redact.Err(err)).
			Msg("upstream registration attempt failed")

		if attempt < s.MaxAttempts {
			if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
				// Invocation torn down mid-retry; nothing written yet.
				return nil, ErrServiceUnavailable
			}
		}
	}

	// Retries exhausted on retryable conditions: accepting the signup
	// locally beats losing it.
	log.Error().
		Str("email", redact.Email(email)).
		Str("error", redact.Err(lastErr)).
		Msg("upstream registration exhausted retries, storing locally")
	if err := s.storeFallback(ctx, email, firstName, source); err != nil {
		return nil, err
	}
	result.Fallback = true
	return result, nil
}

// storeFallback writes a pending subscriber to local storage.
func (s *SubscriptionService) storeFallback(ctx context.Context, email, firstName, source string) error {
	err := s.Store.Add(ctx, &domain.Subscriber{
		Email:     email,
		FirstName: firstName,
		Source:    source,
		Tags:      domain.JoinTags([]string{"hackerspace-mumbai", source}),
		State:     domain.StatePending,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrDuplicate):
		return ErrAlreadySubscribed
	default:
		log.Error().
			Str("email", redact.Email(email)).
			Str("error", redact.Err(err)).
			Msg("fallback store write failed")
		return ErrServiceUnavailable
	}
}

// backoff computes the delay before the next attempt: BackoffBase doubled
// per completed attempt, capped at BackoffCap.
func (s *SubscriptionService) backoff(attempt int) time.Duration {
	d := s.BackoffBase << (attempt - 1)
	if s.BackoffCap > 0 && d > s.BackoffCap {
		d = s.BackoffCap
	}
	return d
}

// sendConfirmationEmail is a no-fail stub: delivery is handled by the
// upstream marketing platform's own double-opt-in flow, so this only
// records intent. Failures are logged, never propagated.
func (s *SubscriptionService) sendConfirmationEmail(email string) bool {
	log.Debug().
		Str("email", redact.Email(email)).
		Msg("confirmation email queued")
	return true
}

// logSubscriptionEvent records a redacted structured event for
// observability. It never fails the request.
func (s *SubscriptionService) logSubscriptionEvent(email, source string, fallback bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("subscription event logging failed")
		}
	}()
	log.Info().
		Str("email", redact.Email(email)).
		Str("source", source).
		Bool("fallback", fallback).
		Msg("subscription completed")
}

// mapAPIError translates a terminal upstream rejection into a service
// sentinel.
func mapAPIError(apiErr *kit.APIError) error {
	switch apiErr.StatusCode {
	case http.StatusBadRequest:
		return ErrInvalidRequest
	case http.StatusUnauthorized:
		// Bad credentials are an operator problem; to the subscriber the
		// service is simply unavailable.
		return ErrServiceUnavailable
	case http.StatusForbidden:
		return ErrBlocked
	case http.StatusConflict, http.StatusUnprocessableEntity:
		if apiErr.IndicatesDuplicate() {
			return ErrAlreadySubscribed
		}
		return ErrInvalidRequest
	case http.StatusTooManyRequests:
		return ErrUpstreamRateLimited
	default:
		return ErrServiceUnavailable
	}
}

// outcomeLabel maps a pipeline error to a bounded metric label.
func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrAlreadySubscribed):
		return "already_subscribed"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrUpstreamRateLimited):
		return "upstream_rate_limited"
	default:
		return "unavailable"
	}
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
