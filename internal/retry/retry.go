// Package retry runs fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds a retried operation. The wait before attempt n+1 is
// BaseDelay * 2^(n-1), capped by MaxDelay when set.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Backoff returns the wait after the given (1-based) failed attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do invokes op until it succeeds, returns a permanent error, or the attempt
// budget is spent. The last failure is returned. Nothing is retried once ctx
// is done; a per-attempt deadline derived inside op is retried like any
// other failure.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	maxAttempts := p.attempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, errors.Join(ctx.Err(), lastErr)
		}
		if attempt == maxAttempts {
			break
		}
		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
