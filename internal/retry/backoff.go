package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig configures exponential backoff. MaxRetries counts retries,
// so an operation runs at most MaxRetries+1 times.
type RetryConfig struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
	Multiplier float64       `json:"multiplier"`
	Jitter     bool          `json:"jitter"` // +/-10%
	LogRetries bool          `json:"log_retries"`

	// RetryIf decides whether a failed attempt may be retried.
	// nil retries every failure.
	RetryIf func(error) bool `json:"-"`

	// RetryAfter may return a server-requested delay for err. Zero falls
	// back to exponential backoff. The result is still capped by MaxDelay.
	RetryAfter func(error) time.Duration `json:"-"`
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"total_duration"`
	LastError     error         `json:"-"`
	Success       bool          `json:"success"`
}

// Err returns nil on success and the last error otherwise
func (r RetryResult) Err() error {
	if r.Success {
		return nil
	}
	return r.LastError
}

// SlackRetryConfig returns a retry configuration for Slack Web API calls.
// Only transient failures are retried.
func SlackRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   20 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
		RetryIf:    IsRetryableError,
	}
}

// RetryWithBackoff runs operation until it succeeds, RetryIf refuses the
// error, the attempts run out or ctx ends.
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation func() error, logger *zerolog.Logger) RetryResult {
	start := time.Now()
	logRetries := config.LogRetries && logger != nil
	var result RetryResult

	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1
		err := operation()
		result.TotalDuration = time.Since(start)
		if err == nil {
			result.Success = true
			if logRetries && attempt > 0 {
				logger.Debug().Int("retries", attempt).Dur("duration", result.TotalDuration).Msg("Operation succeeded after retries")
			}
			return result
		}
		result.LastError = err

		switch {
		case attempt >= config.MaxRetries:
			if logRetries {
				logger.Warn().Err(err).Int("attempts", result.Attempts).Dur("duration", result.TotalDuration).Msg("Operation failed after all attempts")
			}
			return result
		case config.RetryIf != nil && !config.RetryIf(err):
			if logRetries {
				logger.Debug().Err(err).Msg("Operation failed with non-retryable error")
			}
			return result
		}

		delay := calculateDelay(config, attempt)
		if config.RetryAfter != nil {
			if d := config.RetryAfter(err); d > 0 {
				delay = min(d, config.MaxDelay)
			}
		}
		if logRetries {
			logger.Debug().Err(err).Int("attempt", result.Attempts).Dur("delay", delay).Msg("Operation failed, retrying")
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result
		case <-time.After(delay):
		}
	}
}

// calculateDelay calculates the delay for the next retry attempt using exponential backoff
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		jitterRange := delay * 0.1
		jitter := (rand.Float64() - 0.5) * 2 * jitterRange
		delay += jitter

		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

var retryableErrors = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"ratelimited",
	"429",
	"502",
	"503",
	"504",
	"dns lookup failed",
	"no such host",
	"network unreachable",
	"broken pipe",
	"context deadline exceeded",
}

// IsRetryableError determines if an error is retryable
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
