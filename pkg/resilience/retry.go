package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/logging"
)

// BackoffStrategy selects how the delay grows between attempts
type BackoffStrategy string

const (
	StrategyExponential BackoffStrategy = "exponential"
	StrategyLinear      BackoffStrategy = "linear"
	StrategyFixed       BackoffStrategy = "fixed"
	StrategyFibonacci   BackoffStrategy = "fibonacci"
)

// ParseBackoffStrategy maps a config string to a strategy
func ParseBackoffStrategy(s string) (BackoffStrategy, error) {
	switch BackoffStrategy(s) {
	case StrategyExponential, StrategyLinear, StrategyFixed, StrategyFibonacci:
		return BackoffStrategy(s), nil
	default:
		return "", errors.NewConfigError(fmt.Sprintf("unknown backoff strategy: %s", s))
	}
}

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int
	// InitialDelay is the base delay every strategy scales from
	InitialDelay time.Duration
	// MaxDelay caps the delay before jitter is added
	MaxDelay time.Duration
	// BackoffMultiplier is the growth factor for exponential backoff
	BackoffMultiplier float64
	// Strategy selects the delay curve
	Strategy BackoffStrategy
	// Jitter adds up to 10% to each delay to avoid thundering herd
	Jitter bool
	// RetryableErrors decides whether an error is worth another attempt
	RetryableErrors func(error) bool
	// OnRetry is called before each backoff sleep
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
		Strategy:          StrategyExponential,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors retries errors tagged Retryable and untagged errors
// whose message names a transient condition.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return false
	}
	return errors.IsRetryable(err)
}

// Retrier handles retry logic with configurable backoff
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 60 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.Strategy == "" {
		config.Strategy = StrategyExponential
	}
	if config.RetryableErrors == nil {
		config.RetryableErrors = DefaultRetryableErrors
	}

	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
		sleep:  sleepContext,
		random: rand.Float64,
	}
}

// WithLogger replaces the retrier's logger
func (r *Retrier) WithLogger(logger *logging.Logger) *Retrier {
	r.logger = logging.OrDefault(logger)
	return r
}

// Config returns the effective configuration
func (r *Retrier) Config() RetryConfig {
	return r.config
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs operation until it succeeds, fails terminally, or the attempt
// budget is spent. The last error is wrapped on exhaustion; terminal errors
// and context errors are returned as is.
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt,
					"max_attempts", r.config.MaxAttempts,
				)
			}
			return nil
		}

		lastErr = err

		if !r.config.RetryableErrors(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"error", err.Error(),
				"attempt", attempt,
			)
			return err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.Delay(attempt - 1)

		r.logger.Debug("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt,
			"max_attempts", r.config.MaxAttempts,
			"delay", delay.String(),
			"strategy", string(r.config.Strategy),
		)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	r.logger.Warn("Operation failed after all retry attempts",
		"error", lastErr.Error(),
		"attempts", r.config.MaxAttempts,
	)

	return fmt.Errorf("operation failed after %d attempts: %w", r.config.MaxAttempts, lastErr)
}

// Delay returns the backoff before retry number n, where n is zero-based
func (r *Retrier) Delay(n int) time.Duration {
	base := float64(r.config.InitialDelay)

	var delay float64
	switch r.config.Strategy {
	case StrategyLinear:
		delay = base * float64(n+1)
	case StrategyFixed:
		delay = base
	case StrategyFibonacci:
		delay = base * float64(fibonacci(n+1))
	default:
		delay = base * math.Pow(r.config.BackoffMultiplier, float64(n))
	}

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		delay += r.random() * 0.1 * delay
	}

	return time.Duration(delay)
}

// fibonacci returns the k-th term of 1, 1, 2, 3, 5, ... counting from zero
func fibonacci(k int) int {
	a, b := 1, 1
	for i := 0; i < k; i++ {
		a, b = b, a+b
	}
	return a
}

// ExecuteWithResult runs operation with retry and returns its value
func ExecuteWithResult[T any](ctx context.Context, r *Retrier, operation func(context.Context) (T, error)) (T, error) {
	var result T
	err := r.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = operation(ctx)
		return err
	})
	return result, err
}
