package provider

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ragforge/ragserver/internal/batch"
	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/native"
)

// shutdownGrace bounds how long Shutdown waits for in-flight batches.
const shutdownGrace = 30 * time.Second

// nativeEncoder adapts the runtime session to the scheduler's Encoder.
// Runtime calls are synchronous, so cancellation is only honored between
// dispatches.
type nativeEncoder struct {
	rt *native.Runtime
}

func (e nativeEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return e.rt.Encode(texts)
}

// tokenCountingEncoder additionally exposes the runtime tokenizer so the
// scheduler budgets batches by real token counts instead of byte length.
type tokenCountingEncoder struct {
	nativeEncoder
}

func (e tokenCountingEncoder) CountTokens(text string) int {
	return e.rt.CountTokens(text)
}

// LocalEmbedder runs the in-process encoder runtime behind the batch
// scheduler. Concurrent callers coalesce into bounded GPU invocations.
type LocalEmbedder struct {
	rt    *native.Runtime
	sched *batch.Scheduler
	dim   int
	model string
	log   *slog.Logger

	shutdown    sync.Once
	shutdownErr error
}

var _ Embedder = (*LocalEmbedder)(nil)

// NewLocalEmbedder loads the runtime, starts the scheduler, and warms the
// model with one probe embedding. The probe resolves the output dimension
// and fails fast when the runtime cannot serve.
func NewLocalEmbedder(ctx context.Context, cfg ModelConfig, schedCfg batch.Config, log *slog.Logger) (*LocalEmbedder, error) {
	if log == nil {
		log = slog.Default()
	}

	device := cfg.Device
	if device == "" {
		device = "cuda"
	}

	rt, err := native.Load(native.Options{
		Model:  cfg.Model,
		Device: device,
		Extra:  cfg.Extra,
	})
	if err != nil {
		return nil, err
	}

	var enc batch.Encoder = nativeEncoder{rt: rt}
	if rt.HasTokenCounter() {
		enc = tokenCountingEncoder{nativeEncoder{rt: rt}}
	}
	sched := batch.New(enc, schedCfg)

	e := &LocalEmbedder{
		rt:    rt,
		sched: sched,
		model: cfg.Model,
		log:   log,
	}

	vectors, err := sched.Submit(ctx, []string{"warmup"})
	if err != nil {
		_ = e.Shutdown()
		return nil, ragerrors.EncoderError("encoder warmup failed", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		_ = e.Shutdown()
		return nil, ragerrors.EncoderError("encoder warmup returned an empty vector", nil)
	}
	e.dim = len(vectors[0])

	if cfg.EmbeddingDim > 0 && cfg.EmbeddingDim != e.dim {
		_ = e.Shutdown()
		return nil, ragerrors.New(ragerrors.ErrCodeDimensionMismatch,
			"configured embedding_dim does not match the model output", nil).
			WithDetail("configured", strconv.Itoa(cfg.EmbeddingDim)).
			WithDetail("actual", strconv.Itoa(e.dim))
	}

	log.Info("local_embedder_ready",
		slog.String("model", cfg.Model),
		slog.String("device", device),
		slog.String("lib", rt.LibPath()),
		slog.Int("dim", e.dim),
		slog.Bool("tokenizer", rt.HasTokenCounter()))

	return e, nil
}

// Embed implements Embedder by submitting through the scheduler.
func (e *LocalEmbedder) Embed(ctx context.Context, texts []string, _ Params) ([][]float32, error) {
	return e.sched.Submit(ctx, texts)
}

// Dim implements Embedder.
func (e *LocalEmbedder) Dim() int {
	return e.dim
}

// Shutdown drains the scheduler, then unloads the runtime. Idempotent.
func (e *LocalEmbedder) Shutdown() error {
	e.shutdown.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		e.shutdownErr = e.sched.Shutdown(ctx)
		if err := e.rt.Close(); err != nil && e.shutdownErr == nil {
			e.shutdownErr = err
		}
	})
	return e.shutdownErr
}

// LocalReranker scores documents through the runtime's cross-encoder entry
// point. Rerank batches are small, so no scheduler sits in front.
type LocalReranker struct {
	rt  *native.Runtime
	log *slog.Logger

	shutdown    sync.Once
	shutdownErr error
}

var _ Reranker = (*LocalReranker)(nil)

// NewLocalReranker loads a reranker session. CUDA sessions get left padding
// with the pad token defaulted to EOS: causal reranker checkpoints ship
// without a pad token, and the score is read from the final position.
func NewLocalReranker(cfg ModelConfig, log *slog.Logger) (*LocalReranker, error) {
	if log == nil {
		log = slog.Default()
	}

	device := cfg.Device
	if device == "" {
		device = "cpu"
	}

	opts := native.Options{
		Model:  cfg.Model,
		Device: device,
		Extra:  cfg.Extra,
	}
	if strings.HasPrefix(strings.ToLower(device), "cuda") {
		opts.PaddingSide = "left"
		opts.PadToken = "eos"
	}

	rt, err := native.Load(opts)
	if err != nil {
		return nil, err
	}

	log.Info("local_reranker_ready",
		slog.String("model", cfg.Model),
		slog.String("device", device),
		slog.String("lib", rt.LibPath()))

	return &LocalReranker{rt: rt, log: log}, nil
}

// Rerank implements Reranker.
func (r *LocalReranker) Rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return []float64{}, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return r.rt.Rerank(query, docs)
}

// Shutdown implements Reranker. Idempotent.
func (r *LocalReranker) Shutdown() error {
	r.shutdown.Do(func() {
		r.shutdownErr = r.rt.Close()
	})
	return r.shutdownErr
}
