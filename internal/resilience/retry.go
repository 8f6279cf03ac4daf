package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts counts the first try. Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps a single delay. Default: 30s.
	MaxBackoff time.Duration

	// Multiplier scales the delay after each attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction spreads each delay by ±fraction. Default: 0.25.
	JitterFraction float64

	// ShouldRetry overrides IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry runs before each sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the retry policy used for source fetches.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// NewRetryConfig builds a RetryConfig from millisecond config values, keeping
// defaults for anything non-positive.
func NewRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return cfg
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempt
// ceiling is reached or ctx is done. The last error is returned.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that return a value.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) || attempt == cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(backoff(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	delay := math.Min(
		float64(cfg.InitialBackoff)*math.Pow(cfg.Multiplier, float64(attempt)),
		float64(cfg.MaxBackoff),
	)
	if cfg.JitterFraction > 0 {
		delay += (rand.Float64()*2 - 1) * delay * cfg.JitterFraction
	}
	return time.Duration(math.Max(delay, 0))
}

// RetryLogger returns an OnRetry callback that logs each retry.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("class", Class(err)),
			zap.Error(err),
		)
	}
}
