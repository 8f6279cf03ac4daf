package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("busy"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return NewTransientError(errors.New("busy"), 503)
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestDo_QuotaNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return NewQuotaError(errors.New("quota exceeded"), 402)
	})
	require.Error(t, err)
	assert.True(t, IsQuotaOrAuth(err))
	assert.Equal(t, 1, calls)
}

func TestDo_PermanentNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("busy"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fastRetry(3), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("busy"), 429)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestNewRetryConfig(t *testing.T) {
	cfg := NewRetryConfig(5, 100, 2000)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 2*time.Second, cfg.MaxBackoff)

	def := NewRetryConfig(0, 0, 0)
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, def.MaxAttempts)
}

func TestBackoff_Capped(t *testing.T) {
	cfg := applyDefaults(RetryConfig{InitialBackoff: time.Second, MaxBackoff: 2 * time.Second})
	cfg.JitterFraction = 0
	assert.Equal(t, time.Second, backoff(0, cfg))
	assert.Equal(t, 2*time.Second, backoff(1, cfg))
	assert.Equal(t, 2*time.Second, backoff(5, cfg))
}
