package marketdata

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout means the per-request deadline expired.
	ErrTimeout = errors.New("market data request timed out")
	// ErrRateLimited means the provider answered 429.
	ErrRateLimited = errors.New("market data rate limit exceeded")
)

// HTTPError is a non-2xx answer other than 429.
type HTTPError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("market data %s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Temporary reports whether a retry could succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500
}

// RateLimitError is a 429 answer. It matches ErrRateLimited and carries the
// provider's Retry-After hint when one was sent.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %v (retry after %s)", e.Endpoint, ErrRateLimited, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %v", e.Endpoint, ErrRateLimited)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ParseError is a 2xx body that does not match the expected schema.
type ParseError struct {
	Endpoint string
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("market data %s: %s: %v", e.Endpoint, e.Reason, e.Err)
	}
	return fmt.Sprintf("market data %s: %s", e.Endpoint, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return false
	}
	return true
}
