package utils

import (
	"context"
	"math"
	"math/rand"
	"time"

	safety "github.com/heibot/safety"
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retries).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay grows after each retry.
	Multiplier float64

	// Jitter randomizes the delay by the given fraction (0.1 means ±10%).
	Jitter float64

	// RetryIf decides whether an error is retryable. Defaults to safety.IsRetryable.
	RetryIf func(error) bool

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig suits classifier calls, which sit on a request path.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
		RetryIf:      safety.IsRetryable,
	}
}

// Retryer retries a function with exponential backoff.
type Retryer struct {
	config RetryConfig
}

// NewRetryer creates a new retryer, filling zero fields with defaults.
func NewRetryer(config RetryConfig) *Retryer {
	def := DefaultRetryConfig()
	if config.RetryIf == nil {
		config.RetryIf = def.RetryIf
	}
	if config.InitialDelay == 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay == 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.Multiplier == 0 {
		config.Multiplier = def.Multiplier
	}
	return &Retryer{config: config}
}

// Do executes fn until it succeeds, returns a non-retryable error, runs out
// of attempts, or ctx is done.
func (r *Retryer) Do(ctx context.Context, fn func() error) error {
	_, err := DoWithResult(ctx, r, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, r *Retryer, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		val, err := fn()
		if err == nil {
			return val, nil
		}
		lastErr = err

		if attempt >= r.config.MaxRetries || !r.config.RetryIf(err) {
			break
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}

func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt))

	if r.config.Jitter > 0 {
		span := d * r.config.Jitter
		d += (rand.Float64()*2 - 1) * span
	}

	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	return time.Duration(d)
}
