package slackclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/slack-go/slack"
)

// Kind classifies a failed API call
type Kind int

const (
	KindPermanent Kind = iota
	KindRateLimited
	KindTransient
	KindExhausted
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindExhausted:
		return "exhausted"
	default:
		return "permanent"
	}
}

// APIError is returned by every Client call. Callers only ever observe
// KindPermanent or KindExhausted; the other kinds are retried internally.
type APIError struct {
	Kind       Kind
	Operation  string
	RetryAfter time.Duration // server supplied wait, rate limited only
	Attempts   int
	Err        error
}

func (e *APIError) Error() string {
	if e.Kind == KindExhausted {
		return fmt.Sprintf("slack %s: retries exhausted after %d attempts: %v", e.Operation, e.Attempts, e.Err)
	}
	return fmt.Sprintf("slack %s: %s: %v", e.Operation, e.Kind, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an APIError of the given kind
func IsKind(err error, kind Kind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// Slack error codes that are worth retrying
var transientCodes = map[string]bool{
	"internal_error":      true,
	"fatal_error":         true,
	"service_unavailable": true,
	"request_timeout":     true,
}

// classify maps an error from slack-go onto a Kind
func classify(operation string, err error) *APIError {
	apiErr := &APIError{Kind: KindPermanent, Operation: operation, Err: err}

	var rateLimited *slack.RateLimitedError
	var statusErr slack.StatusCodeError
	var slackErr slack.SlackErrorResponse
	var netErr net.Error

	switch {
	case errors.As(err, &rateLimited):
		apiErr.Kind = KindRateLimited
		apiErr.RetryAfter = rateLimited.RetryAfter
	case errors.As(err, &statusErr):
		switch {
		case statusErr.Code == http.StatusTooManyRequests:
			apiErr.Kind = KindRateLimited
		case statusErr.Code >= 500:
			apiErr.Kind = KindTransient
		}
	case errors.As(err, &slackErr):
		switch {
		case slackErr.Err == "ratelimited":
			apiErr.Kind = KindRateLimited
		case transientCodes[slackErr.Err]:
			apiErr.Kind = KindTransient
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Cancellation belongs to the caller and is never retried.
	case errors.As(err, &netErr):
		apiErr.Kind = KindTransient
	}

	return apiErr
}
