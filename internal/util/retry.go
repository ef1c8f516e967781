package util

import (
	"context"
	"time"
)

// Retry executes fn up to attempts times, doubling the backoff between
// tries. retryable decides whether a failure is worth another attempt;
// a nil retryable retries every error.
func Retry(ctx context.Context, attempts int, backoff time.Duration, retryable func(error) bool, fn func() error) error {
	if attempts <= 1 {
		return fn()
	}
	var err error
	wait := backoff
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(wait):
			wait *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
