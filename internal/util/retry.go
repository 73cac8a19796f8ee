package util

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, doubling the wait after each failure.
// onRetry, when non-nil, is told about every failure that will be retried.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error, onRetry func(attempt int, err error)) error {
	if attempts <= 1 {
		return fn()
	}
	wait := backoff
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		if onRetry != nil {
			onRetry(i, err)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		wait *= 2
	}
	return err
}
