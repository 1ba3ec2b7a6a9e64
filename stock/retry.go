package stock

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetryAttempts bounds how often Busy operations are retried.
const DefaultRetryAttempts = 3

// Retry runs fn until it succeeds, fails with a non-retryable error, or has
// been attempted attempts times. Only Busy errors are retried, with jittered
// exponential backoff. The last error is returned unchanged.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 25 * time.Millisecond
	eb.MaxInterval = time.Second
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
