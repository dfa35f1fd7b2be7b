package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry stops after it.
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

// Retry runs op up to 1+retries times, sleeping Backoff(base, i) before
// attempt i. It stops early on success, on a Permanent error or when ctx
// is done. The returned error wraps the last failure.
func Retry(ctx context.Context, retries int, base time.Duration, op func(context.Context) error) error {
	attempts := 1 + max(retries, 0)
	var last error
	for i := range attempts {
		if i > 0 {
			timer := time.NewTimer(Backoff(base, i))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("canceled during backoff after %d attempts: %w", i, errors.Join(ctx.Err(), last))
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("canceled: %w", errors.Join(err, last))
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if IsPermanent(last) {
			return fmt.Errorf("non-retriable error: %w", last)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, last)
}
