package backoff

import (
	"context"
	"errors"
	"fmt"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been exhausted.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// RetryOptions configures Retry.
type RetryOptions struct {
	Policy      Policy
	MaxAttempts int

	// Retryable reports whether a failed attempt may be repeated.
	// Nil retries every error.
	Retryable func(error) bool

	// Sleep waits between attempts. Nil uses SleepWithContext.
	Sleep Sleeper
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. fn receives the 1-based attempt number. An
// exhausted budget returns an error wrapping both ErrMaxAttemptsExhausted
// and the last failure.
func Retry[T any](ctx context.Context, opts RetryOptions, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = SleepWithContext
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if opts.Retryable != nil && !opts.Retryable(err) {
			return zero, err
		}
		if attempt < opts.MaxAttempts {
			if err := sleep(ctx, opts.Policy.Delay(attempt)); err != nil {
				return zero, err
			}
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExhausted, opts.MaxAttempts, lastErr)
}
