package dms

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds retries of transient provider failures.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 500 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 5 * time.Second
	}
	return p
}

// Retry runs op until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. It returns the number of attempts made.
func Retry(ctx context.Context, policy RetryPolicy, op func() error) (int, error) {
	policy = policy.normalized()
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.InitialInterval
	expo.MaxInterval = policy.MaxInterval
	expo.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(expo, uint64(policy.Attempts-1))
	b = backoff.WithContext(b, ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		if err := op(); err != nil {
			if IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, b)
	return attempts, err
}
