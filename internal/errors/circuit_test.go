package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transient() error {
	return New(ErrCodeRemoteUnavailable, "503 service unavailable", nil)
}

func TestBreaker_ClosedUntilThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 3, Cooldown: time.Minute})

	// Two failures in a row: still admitting requests.
	for i := 0; i < 2; i++ {
		require.NoError(t, b.Ready())
		b.Observe(transient())
	}

	assert.False(t, b.Tripped())
	assert.NoError(t, b.Ready())
}

func TestBreaker_TripsOnConsecutiveRetryableFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 3, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Ready())
		b.Observe(transient())
	}

	assert.True(t, b.Tripped())
	err := b.Ready()
	require.Error(t, err)
	assert.Equal(t, ErrCodeRemoteTripped, GetCode(err))
}

func TestBreaker_OpenErrorIsNotRetryable(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Minute})
	b.Observe(transient())

	// Retry loops must fail fast on an open circuit instead of burning
	// their schedule against it.
	assert.False(t, IsRetryable(b.Ready()))
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 3, Cooldown: time.Minute})

	b.Observe(transient())
	b.Observe(transient())
	b.Observe(nil)
	b.Observe(transient())
	b.Observe(transient())

	// The streak restarted after the success, so only two count.
	assert.False(t, b.Tripped())
	assert.NoError(t, b.Ready())
}

func TestBreaker_RejectionsDoNotCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 2, Cooldown: time.Minute})

	// A 4xx means the endpoint is up and the request was wrong.
	for i := 0; i < 5; i++ {
		b.Observe(New(ErrCodeRemoteRejected, "400 bad request", nil))
	}

	assert.False(t, b.Tripped())
}

func TestBreaker_PlainErrorsDoNotCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 2, Cooldown: time.Minute})

	for i := 0; i < 5; i++ {
		b.Observe(errors.New("decode failed"))
	}

	assert.False(t, b.Tripped())
}

func TestBreaker_SingleProbeAfterCooldown(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: 20 * time.Millisecond})
	b.Observe(transient())
	require.Error(t, b.Ready())

	time.Sleep(30 * time.Millisecond)

	// Exactly one caller gets through; the next is held back until the
	// probe settles.
	assert.NoError(t, b.Ready())
	err := b.Ready()
	require.Error(t, err)
	assert.Equal(t, ErrCodeRemoteTripped, GetCode(err))
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: 10 * time.Millisecond})
	b.Observe(transient())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Ready())
	b.Observe(nil)

	assert.False(t, b.Tripped())
	assert.NoError(t, b.Ready())
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: 30 * time.Millisecond})
	b.Observe(transient())

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, b.Ready())
	b.Observe(transient())

	// Cooldown restarted from the failed probe.
	assert.True(t, b.Tripped())
	err := b.Ready()
	require.Error(t, err)
	assert.Equal(t, ErrCodeRemoteTripped, GetCode(err))
}

func TestBreaker_ReadyCarriesRemainingCooldown(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Minute})
	b.Observe(transient())

	err := b.Ready()
	require.Error(t, err)
	var re *RagError
	require.ErrorAs(t, err, &re)
	assert.NotEmpty(t, re.Details["retry_in"])
}

func TestBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{})

	for i := 0; i < 4; i++ {
		b.Observe(transient())
	}
	assert.False(t, b.Tripped(), "default threshold is five")

	b.Observe(transient())
	assert.True(t, b.Tripped())
}
