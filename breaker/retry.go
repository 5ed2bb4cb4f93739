package breaker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/engramhq/engram/errs"
)

// RetryConfig configures the exponential-backoff-with-jitter retry
// policy from §4.K.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig matches §6's migration.retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// RetryPolicy retries classified-transient errors with exponential
// backoff plus jitter, bypassing retry for non-transient errors.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy builds a RetryPolicy from config.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config = DefaultRetryConfig()
	}
	return &RetryPolicy{config: config}
}

// Execute retries op up to MaxAttempts times. Non-transient errors
// (per errs.IsTransient) are returned immediately without retry.
func (r *RetryPolicy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b := r.backoffPolicy()
	var lastErr error

	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.Cancelled, "retry cancelled", err)
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !errs.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == r.config.MaxAttempts-1 {
			break
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errs.Wrap(errs.Cancelled, "retry cancelled", ctx.Err())
		case <-timer.C:
		}
	}
	return lastErr
}

// backoffPolicy builds the cenkalti/backoff exponential policy used to
// compute min(base * 2^n, max) plus +-10% jitter.
func (r *RetryPolicy) backoffPolicy() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.config.BaseDelay
	eb.MaxInterval = r.config.MaxDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.1
	eb.MaxElapsedTime = 0 // bounded by MaxAttempts, not elapsed wall time
	return eb
}
