package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(2), func() error {
		attempts++
		return errors.New("persistent error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts) // initial attempt + 2 retries
}

func TestRetryStopsOnRejection(t *testing.T) {
	attempts := 0
	rejection := New(ErrCodeRemoteRejected, "401 unauthorized", nil)

	cfg := RemoteRetryConfig()
	cfg.InitialDelay = 10 * time.Millisecond
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return rejection
	})

	// A rejection fails immediately, no sleeping between attempts.
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, rejection))
}

func TestRetryClassifiesPerAttempt(t *testing.T) {
	attempts := 0

	cfg := RemoteRetryConfig()
	cfg.InitialDelay = 5 * time.Millisecond
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts == 1 {
			return New(ErrCodeRemoteUnavailable, "502 bad gateway", nil)
		}
		return New(ErrCodeRemoteRejected, "400 bad request", nil)
	})

	// The 502 is retried, the 400 on the second attempt is not.
	assert.Equal(t, 2, attempts)
	assert.Equal(t, ErrCodeRemoteRejected, GetCode(err))
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	cfg := fastRetryConfig(3)
	cfg.InitialDelay = 200 * time.Millisecond

	start := time.Now()
	err := Retry(ctx, cfg, func() error {
		time.Sleep(100 * time.Millisecond)
		return errors.New("error")
	})

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetryBacksOffExponentially(t *testing.T) {
	var timestamps []time.Time

	cfg := RetryConfig{
		MaxRetries:   5,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
	_ = Retry(context.Background(), cfg, func() error {
		timestamps = append(timestamps, time.Now())
		if len(timestamps) < 4 {
			return errors.New("error")
		}
		return nil
	})

	require.Len(t, timestamps, 4)

	// 20ms, 40ms, 80ms, with generous slack for scheduling delay.
	for i, want := range []int64{20, 40, 80} {
		gap := timestamps[i+1].Sub(timestamps[i]).Milliseconds()
		assert.InDelta(t, want, gap, float64(want)/2+5, "gap %d", i)
	}
}

func TestRetryWithResultReturnsValue(t *testing.T) {
	attempts := 0
	result, err := RetryWithResult(context.Background(), fastRetryConfig(3), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("error")
		}
		return 42, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestRetryWithResultZeroValueOnFailure(t *testing.T) {
	result, err := RetryWithResult(context.Background(), fastRetryConfig(1), func() (string, error) {
		return "partial", errors.New("error")
	})

	assert.Error(t, err)
	assert.Empty(t, result)
}

func TestRetryWithResultStopsOnRejection(t *testing.T) {
	attempts := 0

	cfg := RemoteRetryConfig()
	cfg.InitialDelay = 5 * time.Millisecond
	result, err := RetryWithResult(context.Background(), cfg, func() ([]float32, error) {
		attempts++
		return []float32{1}, New(ErrCodeRemoteRejected, "404 model not found", nil)
	})

	assert.Equal(t, 1, attempts)
	assert.Nil(t, result)
	assert.Equal(t, ErrCodeRemoteRejected, GetCode(err))
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, 16*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Nil(t, cfg.RetryIf)
}

func TestRemoteRetryConfigClassification(t *testing.T) {
	cfg := RemoteRetryConfig()

	require.NotNil(t, cfg.RetryIf)
	assert.True(t, cfg.Jitter)
	assert.True(t, cfg.RetryIf(New(ErrCodeRemoteUnavailable, "", nil)))
	assert.False(t, cfg.RetryIf(New(ErrCodeRemoteRejected, "", nil)))
}
