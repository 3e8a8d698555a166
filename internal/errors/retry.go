package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig bounds a retry loop.
type RetryConfig struct {
	// MaxRetries is how many times to retry after the initial attempt.
	MaxRetries int

	// InitialDelay seeds the backoff; each retry multiplies it by
	// Multiplier, capped at MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Jitter scales each delay by a random factor in [0.5, 1.0) so
	// concurrent callers spread out.
	Jitter bool

	// RetryIf decides whether an error is worth retrying. Nil retries
	// everything. Remote adapters pass IsRetryable here so upstream 4xx
	// rejections propagate immediately.
	RetryIf func(error) bool
}

// DefaultRetryConfig is 3 retries on a 1s/2x/16s-cap schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// RemoteRetryConfig is the schedule for remote provider calls: transient
// failures only, with jitter.
func RemoteRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.Jitter = true
	cfg.RetryIf = IsRetryable
	return cfg
}

// RetryWithResult runs fn until it succeeds, exhausts the schedule, or
// hits a non-retryable error. Context cancellation wins over any pending
// backoff sleep.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(withJitter(delay, cfg.Jitter)):
		}
		delay = nextDelay(delay, cfg)
	}

	return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// Retry is RetryWithResult for functions with no result.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func withJitter(d time.Duration, jitter bool) time.Duration {
	if !jitter {
		return d
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
}

func nextDelay(d time.Duration, cfg RetryConfig) time.Duration {
	d = time.Duration(float64(d) * cfg.Multiplier)
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}
