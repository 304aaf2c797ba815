// Package retry provides a generic retry-with-backoff executor for
// idempotent operations.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Policy controls retry behaviour.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the first retry; each subsequent
	// retry doubles it up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter is the fraction of the computed delay randomised on top of
	// it (0.2 means up to +20%).
	Jitter float64
	// RetryIf decides whether an error is worth another attempt. A nil
	// predicate retries everything.
	RetryIf func(error) bool
}

// DefaultPolicy returns the standard policy: 3 attempts, 500ms base delay,
// exponential backoff capped at 10s with 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.2,
	}
}

// ExhaustedError wraps the last error after all attempts failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do executes fn until it succeeds, the error is not retryable, or the
// policy's attempts are exhausted. It returns the first successful result;
// on exhaustion the last error is wrapped in an ExhaustedError. fn must be
// idempotent: Do never observes partial output.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.RetryIf != nil && !p.RetryIf(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-time.After(p.delay(attempt)):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

// delay computes the backoff before the retry following the given attempt.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	return d
}
