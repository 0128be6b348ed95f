// Package services defines the business logic of the subscription intake
// pipeline. This file centralizes service-level error values so they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer;
// translation into user-facing messages and HTTP status codes happens at
// the handler layer. Validation failures are not listed here: they travel
// as *domain.ValidationError.
package services

import "errors"

var (
	// ErrAlreadySubscribed indicates the email is already registered, either
	// upstream or in the fallback store.
	ErrAlreadySubscribed = errors.New("email already subscribed")

	// ErrInvalidRequest indicates the upstream API rejected the payload as
	// malformed (HTTP 400, or 422 without a duplicate hint).
	ErrInvalidRequest = errors.New("subscription request rejected")

	// ErrBlocked indicates the upstream API refused the request outright
	// (HTTP 403).
	ErrBlocked = errors.New("subscription blocked by upstream")

	// ErrUpstreamRateLimited indicates the upstream API throttled us
	// (HTTP 429).
	ErrUpstreamRateLimited = errors.New("upstream rate limit exceeded")

	// ErrServiceUnavailable indicates the subscription could not be
	// completed anywhere: the upstream failed terminally and the fallback
	// store also failed.
	ErrServiceUnavailable = errors.New("subscription service unavailable")
)
