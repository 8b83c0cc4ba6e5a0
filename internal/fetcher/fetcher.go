// Package fetcher defines the page retrieval contract shared by the HTTP and
// headless implementations.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrHeadlessDisabled is returned by the no-op headless fetcher.
var ErrHeadlessDisabled = errors.New("headless fetcher not configured")

// Request describes a single page retrieval.
type Request struct {
	URL     string
	Headers http.Header
}

// Response is the raw result of a retrieval.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Headless   bool
}

// Fetcher retrieves one URL.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Waiter blocks until a request to url may proceed.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// Retryable reports whether the status is worth retrying: 5xx and 429.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsRetryable reports whether err should be retried. Everything other than a
// non-retryable StatusError is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
