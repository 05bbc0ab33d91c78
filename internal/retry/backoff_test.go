package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fast retries every failure with millisecond delays
func fast(maxRetries int) RetryConfig {
	return RetryConfig{MaxRetries: maxRetries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

// failing returns the errs in order, then succeeds
func failing(errs ...error) (func() error, *int) {
	calls := 0
	return func() error {
		calls++
		if calls <= len(errs) {
			return errs[calls-1]
		}
		return nil
	}, &calls
}

func TestSlackRetryConfig(t *testing.T) {
	rc := SlackRetryConfig()

	assert.Equal(t, 3, rc.MaxRetries)
	assert.Equal(t, 20*time.Second, rc.MaxDelay)
	require.NotNil(t, rc.RetryIf)
	assert.False(t, rc.RetryIf(errors.New("channel_not_found")))
	assert.True(t, rc.RetryIf(errors.New("slack rate limit exceeded")))
}

func TestRetryWithBackoff(t *testing.T) {
	transient := errors.New("503 service unavailable")
	fatal := errors.New("invalid_auth")

	tests := []struct {
		name     string
		config   RetryConfig
		errs     []error
		success  bool
		attempts int
		lastErr  error
	}{
		{name: "first try", config: fast(2), success: true, attempts: 1},
		{name: "recovers", config: fast(3), errs: []error{transient, transient}, success: true, attempts: 3},
		{name: "runs out", config: fast(1), errs: []error{transient, transient, transient}, attempts: 2, lastErr: transient},
		{
			name:     "stops on non-retryable",
			config:   func() RetryConfig { rc := fast(5); rc.RetryIf = IsRetryableError; return rc }(),
			errs:     []error{transient, fatal, transient},
			attempts: 2,
			lastErr:  fatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, calls := failing(tt.errs...)
			result := RetryWithBackoff(context.Background(), tt.config, op, nil)

			assert.Equal(t, tt.success, result.Success)
			assert.Equal(t, tt.attempts, result.Attempts)
			assert.Equal(t, tt.attempts, *calls)
			assert.Equal(t, tt.lastErr, result.Err())
		})
	}
}

func TestRetryWithBackoff_RetryAfterIsCapped(t *testing.T) {
	rc := fast(1)
	rc.BaseDelay = time.Hour
	rc.RetryAfter = func(error) time.Duration { return time.Minute }

	op, _ := failing(errors.New("ratelimited"))
	start := time.Now()
	result := RetryWithBackoff(context.Background(), rc, op, nil)

	require.True(t, result.Success)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryWithBackoff_ContextEnds(t *testing.T) {
	rc := RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := RetryWithBackoff(ctx, rc, func() error { return errors.New("down") }, nil)

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err(), context.DeadlineExceeded)
	assert.Equal(t, 1, result.Attempts)
}

func TestCalculateDelay(t *testing.T) {
	rc := RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, calculateDelay(rc, 0))
	assert.Equal(t, 4*time.Second, calculateDelay(rc, 2))
	assert.Equal(t, 5*time.Second, calculateDelay(rc, 6))

	rc.Jitter = true
	assert.InDelta(t, float64(2*time.Second), float64(calculateDelay(rc, 1)), float64(200*time.Millisecond))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("slack server error: 502 Bad Gateway"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("ratelimited"), true},
		{errors.New("channel_not_found"), false},
		{errors.New("not_in_channel"), false},
		{errors.New("HTTP 404 Not Found"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.err), "%v", tt.err)
	}
}
