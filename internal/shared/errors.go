package shared

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Sync errors
	ErrAuthFailure         = fmt.Errorf("authentication failed")
	ErrRateLimited         = fmt.Errorf("rate limited")
	ErrTransientIO         = fmt.Errorf("transient I/O failure")
	ErrMetadataUnavailable = fmt.Errorf("metadata unavailable")
	ErrMalformedEvent      = fmt.Errorf("malformed event")
	ErrConcurrentRun       = fmt.Errorf("another sync run is in progress")

	// API and storage errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrNotFound           = fmt.Errorf("not found")
	ErrUserNotFound       = fmt.Errorf("user not found")

	// Input validation errors
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// RateLimitError is returned when the upstream API responds with 429.
// RetryAfter is zero when no Retry-After header was sent.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %s)", ErrRateLimited, e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterHint extracts the server-provided delay from err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}
