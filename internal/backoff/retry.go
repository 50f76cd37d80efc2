package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been exhausted.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry returns the wrapped error
// unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryAfter is implemented by errors that carry a server-provided delay, such
// as an HTTP 429 with a Retry-After header. The hint replaces the computed
// delay when it is positive, still capped by Policy.Max.
type RetryAfter interface {
	RetryAfter() time.Duration
}

// Retry runs fn until it succeeds, returns a Permanent error, the context ends,
// or the policy's attempts are used up. On exhaustion the error wraps both
// ErrMaxAttemptsExhausted and the last failure.
func Retry[T any](ctx context.Context, policy Policy, fn func(attempt int) (T, error)) (T, error) {
	policy = policy.WithDefaults()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}
		wait := policy.Delay(attempt)
		var hint RetryAfter
		if errors.As(err, &hint) && hint.RetryAfter() > 0 {
			wait = min(hint.RetryAfter(), policy.Max)
		}
		if err := Sleep(ctx, wait); err != nil {
			return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExhausted, policy.MaxAttempts, lastErr)
}

// Do is Retry for functions without a result value.
func Do(ctx context.Context, policy Policy, fn func(attempt int) error) error {
	_, err := Retry(ctx, policy, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
