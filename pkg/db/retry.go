package db

import (
	"context"
	"time"
)

const (
	// DefaultRetryAttempts bounds internal retries of idempotent store operations.
	DefaultRetryAttempts = 3

	retryBaseDelay = 25 * time.Millisecond
)

// WithRetry runs fn up to attempts times, retrying only transient failures.
// Callers must only pass idempotent operations; the final error is returned
// unchanged so its Kind stays classifiable.
func WithRetry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = fn(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}
