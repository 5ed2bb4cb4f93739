package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/errs"
)

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	clk := clock.NewMock()
	b := NewWithClock(Config{FailureThreshold: 2, SuccessThreshold: 2, Timeout: 100 * time.Millisecond, HalfOpenMaxCalls: 3}, clk)

	assert.Equal(t, Closed, b.Stats().State)

	failing := func() error { return assertErr }
	_ = b.Execute(failing)
	assert.Equal(t, Closed, b.Stats().State)
	_ = b.Execute(failing)
	assert.Equal(t, Open, b.Stats().State)

	err := b.Execute(func() error { return nil })
	require.Error(t, err)
	assert.Equal(t, errs.CircuitOpen, errs.KindOf(err))

	clk.Add(150 * time.Millisecond)
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, HalfOpen, b.Stats().State)

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, Closed, b.Stats().State)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := clock.NewMock()
	b := NewWithClock(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond, HalfOpenMaxCalls: 3}, clk)

	_ = b.Execute(func() error { return assertErr })
	assert.Equal(t, Open, b.Stats().State)

	clk.Add(20 * time.Millisecond)
	_ = b.Execute(func() error { return assertErr })
	assert.Equal(t, Open, b.Stats().State)
}

func TestRetryPolicy_RetriesTransientOnly(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})

	attempts := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errs.New(errs.RateLimit, "slow down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_NonTransientBypassesRetry(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())
	attempts := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errs.New(errs.InvalidInput, "bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

var assertErr = errs.New(errs.ProviderUnavailable, "boom")
