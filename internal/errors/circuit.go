package errors

import (
	"sync"
	"time"
)

// Breaker fails fast against a remote provider endpoint that keeps
// timing out or returning 5xx. It trips after a run of consecutive
// retryable failures and stays open for a cooldown, after which a
// single probe request is let through. Upstream 4xx rejections never
// count: they mean the request was wrong, not that the endpoint is
// down.
//
// One Breaker guards one endpoint. Safe for concurrent use.
type Breaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	streak   int // consecutive retryable failures
	openedAt time.Time
	probing  bool
}

// BreakerConfig tunes a Breaker. Zero values take the defaults
// (5 failures, 30s cooldown).
type BreakerConfig struct {
	Threshold int
	Cooldown  time.Duration
}

// NewBreaker returns a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{threshold: cfg.Threshold, cooldown: cfg.Cooldown}
}

// Ready reports whether a request may proceed. While the breaker is
// open it returns an ErrCodeRemoteTripped error carrying the remaining
// cooldown; once the cooldown lapses it admits exactly one probe and
// holds everyone else back until Observe settles the probe's outcome.
func (b *Breaker) Ready() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.streak < b.threshold {
		return nil
	}
	if remaining := b.cooldown - time.Since(b.openedAt); remaining > 0 {
		return New(ErrCodeRemoteTripped, "provider circuit open", nil).
			WithDetail("retry_in", remaining.Round(time.Millisecond).String())
	}
	if b.probing {
		return New(ErrCodeRemoteTripped, "provider circuit open, probe in flight", nil)
	}
	b.probing = true
	return nil
}

// Observe settles one request's outcome. A nil error or a fatal
// rejection closes the breaker; a retryable failure extends the streak
// and, past the threshold, restarts the cooldown.
func (b *Breaker) Observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil || !IsRetryable(err) {
		b.streak = 0
		return
	}
	b.streak++
	if b.streak >= b.threshold {
		b.openedAt = time.Now()
	}
}

// Tripped reports whether the breaker is currently refusing requests.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streak >= b.threshold && time.Since(b.openedAt) < b.cooldown
}
