package pgwire

import (
	"context"
	"fmt"
	"time"
)

// retryWithBackoff executes fn with exponential backoff on failure. Used for
// transient dial errors during Connect.
// Backoff schedule: 100ms, 200ms, 400ms, 800ms, 1.6s, 3.2s...
func retryWithBackoff(ctx context.Context, maxRetries int, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Exponential backoff: 100ms * 2^i, max 5 seconds
		delay := time.Duration(100<<uint(i)) * time.Millisecond
		if delay > 5*time.Second {
			delay = 5 * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("after %d retries: %w", maxRetries, err)
}
