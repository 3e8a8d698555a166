// Package batch coalesces concurrent embedding requests into bounded
// encoder invocations.
//
// Callers block in Submit while a single collector goroutine gathers
// requests into batches capped by request count and an optional token
// budget. Each batch dispatches on its own goroutine, so the collector
// keeps gathering while the encoder works, and a request issued from
// the encoder goroutine itself (warmup does this) cannot deadlock.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/metrics"
)

// Encoder is the synchronous embedding call the scheduler wraps.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// TokenCounter is optionally implemented by encoders that expose their
// tokenizer. When absent, token cost falls back to byte length; either
// way the same measure applies for the life of the scheduler.
type TokenCounter interface {
	CountTokens(text string) int
}

// Config bounds batch collection.
type Config struct {
	// MaxBatchSize caps requests per batch. Default 32.
	MaxBatchSize int

	// MaxWaitTime bounds how long the first request in a batch waits
	// for company. Default 200ms.
	MaxWaitTime time.Duration

	// MaxBatchTokens caps the summed token cost of a batch. Zero
	// disables the budget. A single request over the budget still
	// dispatches alone.
	MaxBatchTokens int

	// QueueDepth is the submission channel capacity. Default 1024.
	QueueDepth int
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 32
	}
	if c.MaxWaitTime <= 0 {
		c.MaxWaitTime = 200 * time.Millisecond
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 1024
	}
	return c
}

type result struct {
	vectors [][]float32
	err     error
}

type request struct {
	texts     []string
	arrivedAt time.Time
	tokens    int // memoized cost, -1 until measured
	done      chan result
}

// Scheduler owns the request queue and the collector goroutine.
type Scheduler struct {
	enc     Encoder
	counter TokenCounter
	cfg     Config

	queue    chan *request
	deferred []*request // collector-owned overflow, leads the next batch

	stop     chan struct{}
	stopOnce sync.Once
	closed   atomic.Bool
	loopDone chan struct{}

	wg sync.WaitGroup // in-flight dispatch goroutines
}

// New starts a scheduler around enc. The encoder's tokenizer is used
// for token budgeting when it implements TokenCounter.
func New(enc Encoder, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		enc:      enc,
		cfg:      cfg,
		queue:    make(chan *request, cfg.QueueDepth),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	if tc, ok := enc.(TokenCounter); ok {
		s.counter = tc
	}
	go s.run()
	return s
}

// Submit blocks until the texts are embedded or ctx is done. Vectors
// come back in input order. An empty request returns an empty matrix
// without touching the queue.
func (s *Scheduler) Submit(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if s.closed.Load() {
		return nil, ragerrors.New(ragerrors.ErrCodeSchedulerClosed, "scheduler is shut down", nil)
	}

	req := &request{
		texts:     texts,
		arrivedAt: time.Now(),
		tokens:    -1,
		done:      make(chan result, 1),
	}

	select {
	case s.queue <- req:
		// stop and a free queue slot can be ready at once, and select
		// picks arbitrarily; the request may have landed after the
		// collector already drained the queue. Sweep again so it cannot
		// sit there unanswered.
		if s.closed.Load() {
			<-s.loopDone
			s.sweepQueue()
		}
	case <-s.stop:
		return nil, ragerrors.New(ragerrors.ErrCodeSchedulerClosed, "scheduler is shut down", nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.vectors, res.err
	case <-ctx.Done():
		// The batch still dispatches; the buffered done channel absorbs
		// the unread result.
		return nil, ctx.Err()
	}
}

// Shutdown stops the collector, rejects everything still queued, and
// waits for in-flight batches up to the ctx deadline.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
	})

	select {
	case <-s.loopDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	flushed := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
		slog.Info("scheduler_stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	defer close(s.loopDone)
	for {
		if stopped := s.iterate(); stopped {
			s.drainOnStop()
			return
		}
	}
}

// iterate collects and launches one batch. A panic (a broken tokenizer,
// say) is logged and the loop moves on.
func (s *Scheduler) iterate() (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("batch_loop_panic", slog.Any("panic", r))
		}
	}()

	batch, tokens, stopped := s.collect()
	if stopped {
		// A batch still being assembled at shutdown is cancelled, not
		// dispatched.
		s.reject(batch)
		return true
	}

	s.wg.Add(1)
	go s.dispatch(batch, tokens)
	return false
}

// collect implements the batch-assembly algorithm. The final result
// reports whether the scheduler is shutting down; any partially
// collected batch comes back with it so the caller can cancel those
// requests.
func (s *Scheduler) collect() ([]*request, int, bool) {
	select {
	case <-s.stop:
		return nil, 0, true
	default:
	}

	// The first request always enters and sets the dwell clock from its
	// original arrival, even when it spent time on the deferred list.
	var first *request
	if len(s.deferred) > 0 {
		first = s.deferred[0]
		s.deferred = s.deferred[1:]
	} else {
		select {
		case first = <-s.queue:
		case <-s.stop:
			return nil, 0, true
		}
	}

	batch := []*request{first}
	budget := s.cfg.MaxBatchTokens
	total := 0
	if budget > 0 {
		total = s.cost(first)
	}

	// Deferred requests lead the batch; the first one that does not fit
	// stays deferred for the next round.
	for len(s.deferred) > 0 && len(batch) < s.cfg.MaxBatchSize {
		cand := s.deferred[0]
		if budget > 0 {
			c := s.cost(cand)
			if total+c > budget {
				return batch, total, false
			}
			total += c
		}
		batch = append(batch, cand)
		s.deferred = s.deferred[1:]
	}

	// Drain whatever is already queued without waiting. A request that
	// would overshoot the budget moves to the deferred list and ends
	// collection for this batch.
	for len(batch) < s.cfg.MaxBatchSize {
		select {
		case req := <-s.queue:
			if budget > 0 {
				c := s.cost(req)
				if total+c > budget {
					s.deferred = append(s.deferred, req)
					return batch, total, false
				}
				total += c
			}
			batch = append(batch, req)
			continue
		default:
		}
		break
	}

	// Wait out the remaining dwell time for stragglers.
	deadline := first.arrivedAt.Add(s.cfg.MaxWaitTime)
	for len(batch) < s.cfg.MaxBatchSize {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		timer := time.NewTimer(remaining)
		select {
		case req := <-s.queue:
			timer.Stop()
			if budget > 0 {
				c := s.cost(req)
				if total+c > budget {
					s.deferred = append(s.deferred, req)
					return batch, total, false
				}
				total += c
			}
			batch = append(batch, req)
		case <-timer.C:
			return batch, total, false
		case <-s.stop:
			timer.Stop()
			return batch, total, true
		}
	}
	return batch, total, false
}

// cost measures a request once; deferred requests keep their first
// measurement so the same figure applies in every round.
func (s *Scheduler) cost(r *request) int {
	if r.tokens >= 0 {
		return r.tokens
	}
	total := 0
	for _, t := range r.texts {
		if s.counter != nil {
			total += s.counter.CountTokens(t)
		} else {
			total += len(t)
		}
	}
	r.tokens = total
	return total
}

func (s *Scheduler) dispatch(batch []*request, tokens int) {
	defer s.wg.Done()

	texts := make([]string, 0, len(batch))
	offsets := make([][2]int, len(batch))
	for i, r := range batch {
		start := len(texts)
		texts = append(texts, r.texts...)
		offsets[i] = [2]int{start, len(texts)}
	}

	now := time.Now()
	metrics.BatchesTotal.Inc()
	metrics.BatchRequests.Observe(float64(len(batch)))
	metrics.BatchTexts.Observe(float64(len(texts)))
	for _, r := range batch {
		metrics.BatchDwellSeconds.Observe(now.Sub(r.arrivedAt).Seconds())
	}

	// Encoders that honor ctx can abort when the scheduler stops.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	vectors, err := s.enc.Encode(ctx, texts)
	metrics.EncodeSeconds.Observe(time.Since(start).Seconds())

	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("encoder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	if err != nil {
		metrics.EncodeFailures.Inc()
		slog.Error("batch_encode_failed",
			slog.Int("requests", len(batch)),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))
		failure := ragerrors.EncoderError("batch encode failed", err)
		for _, r := range batch {
			r.done <- result{err: failure}
		}
		return
	}

	slog.Debug("batch_dispatched",
		slog.Int("requests", len(batch)),
		slog.Int("texts", len(texts)),
		slog.Int("tokens", tokens),
		slog.Duration("encode_time", time.Since(start)))

	for i, r := range batch {
		r.done <- result{vectors: vectors[offsets[i][0]:offsets[i][1]]}
	}
}

// reject resolves requests with a cancellation error.
func (s *Scheduler) reject(reqs []*request) {
	if len(reqs) == 0 {
		return
	}
	rejected := ragerrors.New(ragerrors.ErrCodeSchedulerClosed,
		"scheduler shut down before dispatch", nil)
	for _, r := range reqs {
		r.done <- result{err: rejected}
	}
}

// drainOnStop rejects every request still waiting for a batch.
func (s *Scheduler) drainOnStop() {
	s.reject(s.deferred)
	s.deferred = nil
	s.sweepQueue()
}

// sweepQueue rejects whatever sits in the queue right now. Safe to call
// from several goroutines once the collector has exited.
func (s *Scheduler) sweepQueue() {
	for {
		select {
		case r := <-s.queue:
			s.reject([]*request{r})
		default:
			return
		}
	}
}
