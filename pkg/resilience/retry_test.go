package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	appErrors "github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleeps swaps the retrier's sleep for one that records delays and returns immediately
func recordSleeps(r *Retrier) *[]time.Duration {
	var delays []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return &delays
}

func TestRetrier_SuccessOnFirstAttempt(t *testing.T) {
	retrier := NewRetrier(DefaultRetryConfig())
	delays := recordSleeps(retrier)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, *delays)
}

func TestRetrier_SuccessAfterMaxMinusOneFailures(t *testing.T) {
	for _, maxAttempts := range []int{2, 3, 5} {
		config := DefaultRetryConfig()
		config.MaxAttempts = maxAttempts
		retrier := NewRetrier(config)
		delays := recordSleeps(retrier)

		attempts := 0
		got, err := ExecuteWithResult(context.Background(), retrier, func(ctx context.Context) (string, error) {
			attempts++
			if attempts < maxAttempts {
				return "", appErrors.NewTimeoutError("load snapshot")
			}
			return "dev-a", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "dev-a", got)
		assert.Equal(t, maxAttempts, attempts)
		assert.Len(t, *delays, maxAttempts-1, "one backoff between each pair of attempts")
	}
}

func TestRetrier_FailureAfterMaxAttempts(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	retrier := NewRetrier(config)
	recordSleeps(retrier)

	lastErr := appErrors.NewTimeoutError("redis GET")
	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return lastErr
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "operation failed after 3 attempts")
	assert.ErrorIs(t, err, lastErr)
}

func TestRetrier_NonRetryableError(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 5
	retrier := NewRetrier(config)
	delays := recordSleeps(retrier)

	terminal := appErrors.NewValidationError("unknown weights")
	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return terminal
	})

	assert.Same(t, terminal, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, *delays)
}

func TestRetrier_OpaqueErrorClassification(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	retrier := NewRetrier(config)
	recordSleeps(retrier)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return errors.New("read tcp: connection reset by peer")
		}
		return errors.New("nil map write")
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts, "transient phrase retried, unknown error stops")
	assert.EqualError(t, err, "nil map write")
}

func TestRetrier_ContextCancelledDuringBackoff(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 5
	config.InitialDelay = time.Second
	retrier := NewRetrier(config)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	attempts := 0
	err := retrier.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return appErrors.NewTimeoutError("status store")
	})

	assert.Equal(t, context.DeadlineExceeded, err)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetrier_ContextCancelledBeforeAttempt(t *testing.T) {
	retrier := NewRetrier(DefaultRetryConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := retrier.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return nil
	})

	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 0, attempts)
}

func TestRetrier_OnRetryCallback(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	config.Jitter = false
	var seen []int
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		seen = append(seen, attempt)
	}
	retrier := NewRetrier(config)
	recordSleeps(retrier)

	_ = retrier.Execute(context.Background(), func(ctx context.Context) error {
		return appErrors.NewRateLimitError("slow down")
	})

	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetrier_DelayStrategies(t *testing.T) {
	base := 100 * time.Millisecond
	tests := []struct {
		strategy BackoffStrategy
		want     []time.Duration
	}{
		{StrategyExponential, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}},
		{StrategyLinear, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 400 * time.Millisecond}},
		{StrategyFixed, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond}},
		{StrategyFibonacci, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			retrier := NewRetrier(RetryConfig{
				MaxAttempts:       5,
				InitialDelay:      base,
				MaxDelay:          time.Minute,
				BackoffMultiplier: 2,
				Strategy:          tt.strategy,
			})
			for n, want := range tt.want {
				assert.Equal(t, want, retrier.Delay(n), "retry %d", n)
			}
		})
	}
}

func TestRetrier_DelayCapAndJitter(t *testing.T) {
	retrier := NewRetrier(RetryConfig{
		InitialDelay:      time.Second,
		MaxDelay:          3 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
	})

	retrier.random = func() float64 { return 0 }
	assert.Equal(t, 3*time.Second, retrier.Delay(5))

	retrier.random = func() float64 { return 0.999999 }
	d := retrier.Delay(5)
	assert.Greater(t, d, 3*time.Second)
	assert.LessOrEqual(t, d, 3300*time.Millisecond)
}

func TestParseBackoffStrategy(t *testing.T) {
	s, err := ParseBackoffStrategy("fibonacci")
	require.NoError(t, err)
	assert.Equal(t, StrategyFibonacci, s)

	_, err = ParseBackoffStrategy("random")
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeConfig))
}
