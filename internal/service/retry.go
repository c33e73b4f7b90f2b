package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloo-solutions/ragquery/internal/openai"
)

// RetryPolicy retries an operation with exponential backoff while its errors
// are retryable and attempts remain.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Retryable reports whether a failed attempt may be repeated. Nil means
	// no error is retryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries transient upstream failures up to three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Retryable:       openai.IsTransient,
	}
}

// Do runs op until it succeeds, fails permanently, runs out of attempts or
// ctx is done. It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxAttempts-1)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	return attempts, err
}
