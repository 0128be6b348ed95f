// Newsletter subscription HTTP handler.
//
// This file exposes the subscription intake endpoint:
//   - POST /newsletter/subscribe
//
// The handler is transport-thin: it parses and lightly checks the JSON
// body, delegates to the subscription service, and translates pipeline
// results into HTTP responses. All validation semantics live in the service
// layer so the same rules apply regardless of transport.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hackmum/newsletter-service/internal/domain"
	"github.com/hackmum/newsletter-service/internal/services"
)

// upstreamRetryAfter is the Retry-After hint (seconds) returned when the
// upstream subscription service is unavailable.
const upstreamRetryAfter = 30

// SubscriptionService defines the pipeline operations consumed by HTTP
// handlers. Implementations must honor the provided context for
// cancellation and timeouts.
type SubscriptionService interface {
	// Subscribe runs the intake pipeline for one request.
	Subscribe(ctx context.Context, req services.SubscribeRequest) (*services.SubscribeResult, error)
}

// Handlers groups the HTTP endpoints of the service. It depends on
// abstract interfaces to keep transport concerns separate from business
// logic.
type Handlers struct {
	subSvc SubscriptionService
	health *HealthChecker
}

// New constructs a Handlers instance bound to the given collaborators.
func New(subSvc SubscriptionService, health *HealthChecker) *Handlers {
	return &Handlers{subSvc: subSvc, health: health}
}

//
// DTOs
//

// SubscribeRequest is the JSON payload for a newsletter signup.
type SubscribeRequest struct {
	// Email is the address to subscribe (required).
	Email string `json:"email" example:"alice@example.com"`
	// FirstName optionally personalizes the welcome email.
	FirstName string `json:"firstName" example:"Alice"`
	// Source identifies which site surface the signup came from.
	Source string `json:"source" example:"website_newsletter"`
}

// SubscribeData is the data payload of a successful subscription response.
type SubscribeData struct {
	Email     string    `json:"email" example:"alice@example.com"`
	FirstName string    `json:"first_name,omitempty" example:"Alice"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source" example:"website_newsletter"`
}

//
// Handlers
//

// Subscribe godoc
// @ID          subscribeNewsletter
// @Summary     Subscribe to the newsletter
// @Description Validates the submitted email/name pair and registers the subscriber, preferring the upstream marketing API with a local fallback.
// @Tags        Newsletter
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.SubscribeRequest  true  "Subscription payload"
//
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed JSON or missing email"
// @Failure     403  {object}  handlers.ErrorResponse  "Blocked by upstream"
// @Failure     409  {object}  handlers.ErrorResponse  "Already subscribed"
// @Failure     422  {object}  handlers.ErrorResponse  "Validation failure"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     503  {object}  handlers.ErrorResponse  "Upstream unavailable"
// @Router      /newsletter/subscribe [post]
func (h *Handlers) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "Email address is required")
		return
	}

	res, err := h.subSvc.Subscribe(c.Request.Context(), services.SubscribeRequest{
		Email:     req.Email,
		FirstName: req.FirstName,
		Source:    req.Source,
	})
	if err != nil {
		failSubscription(c, err)
		return
	}

	ok(c, http.StatusOK, "Successfully subscribed to the newsletter", SubscribeData{
		Email:     res.Email,
		FirstName: res.FirstName,
		Timestamp: res.Timestamp,
		Source:    res.Source,
	})
}

// failSubscription maps pipeline errors to HTTP responses. Validation
// errors carry their own user-safe message; everything else uses a fixed
// string per outcome.
func failSubscription(c *gin.Context, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		fail(c, http.StatusUnprocessableEntity, ErrCodeValidationFailed, vErr.Message)
	case errors.Is(err, services.ErrAlreadySubscribed):
		fail(c, http.StatusConflict, ErrCodeAlreadySubscribed, "This email address is already subscribed")
	case errors.Is(err, services.ErrInvalidRequest):
		fail(c, http.StatusUnprocessableEntity, ErrCodeValidationFailed, "The subscription request could not be processed")
	case errors.Is(err, services.ErrBlocked):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "This subscription request was declined")
	case errors.Is(err, services.ErrUpstreamRateLimited):
		c.Header("Retry-After", strconv.Itoa(upstreamRetryAfter))
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "Too many requests. Please try again shortly")
	case errors.Is(err, services.ErrServiceUnavailable):
		c.Header("Retry-After", strconv.Itoa(upstreamRetryAfter))
		fail(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "The subscription service is temporarily unavailable. Please try again later")
	default:
		// Unexpected error: generic 500, request id only, no internal text.
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
