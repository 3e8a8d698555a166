package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/metrics"
)

// DefaultJinaBaseURL is the public Jina embeddings endpoint.
const DefaultJinaBaseURL = "https://api.jina.ai/v1/embeddings"

const (
	// jinaRequestsPerSecond paces outbound calls below Jina's published
	// account limits.
	jinaRequestsPerSecond = 10
	jinaBurst             = 5

	// maxRetryAfter caps how long a Retry-After header can stall a retry.
	maxRetryAfter = 30 * time.Second
)

// jinaExtraKeys are the binding extras forwarded to the API. Everything
// else in Extra is dropped rather than risking a 422 on unknown fields.
var jinaExtraKeys = []string{"task", "dimensions", "late_chunking", "embedding_type"}

// jinaBackoffs drives the retry schedule for 429/5xx/network failures.
var jinaBackoffs = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// JinaEmbedder calls the Jina embeddings API. The request body never
// carries encoding_format: Jina rejects it.
type JinaEmbedder struct {
	cfg     ModelConfig
	client  *remoteClient
	limiter *rate.Limiter
	log     *slog.Logger

	shutdown sync.Once
}

var _ Embedder = (*JinaEmbedder)(nil)

// NewJinaEmbedder builds the adapter for cfg.
func NewJinaEmbedder(cfg ModelConfig, log *slog.Logger) (*JinaEmbedder, error) {
	if cfg.Model == "" {
		return nil, ragerrors.ValidationError("jina embedding binding names no model", nil)
	}
	if cfg.APIKey == "" {
		return nil, ragerrors.ValidationError("jina embedding binding requires api_key", nil).
			WithSuggestion("set RAGSERVER_EMBEDDING_API_KEY or embedding.api_key")
	}
	if cfg.EmbeddingDim <= 0 {
		return nil, ragerrors.ValidationError("remote embedding binding requires embedding_dim", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultJinaBaseURL
	}
	if log == nil {
		log = slog.Default()
	}

	return &JinaEmbedder{
		cfg:     cfg,
		client:  newRemoteClient(),
		limiter: rate.NewLimiter(rate.Limit(jinaRequestsPerSecond), jinaBurst),
		log:     log,
	}, nil
}

// Embed implements Embedder.
func (e *JinaEmbedder) Embed(ctx context.Context, texts []string, _ Params) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := map[string]any{
		"model": e.cfg.Model,
		"input": texts,
	}
	for _, key := range jinaExtraKeys {
		if v, ok := e.cfg.Extra[key]; ok {
			body[key] = v
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, ragerrors.InternalError("failed to encode request body", err)
	}

	resp, err := e.doWithRetry(ctx, payload)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, ragerrors.New(ragerrors.ErrCodeRemoteBadResponse,
				fmt.Sprintf("embedding index %d out of range for %d inputs", item.Index, len(texts)), nil)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, ragerrors.New(ragerrors.ErrCodeRemoteBadResponse,
				fmt.Sprintf("no embedding returned for input %d", i), nil)
		}
	}

	e.log.Debug("jina_embed",
		slog.String("model", e.cfg.Model),
		slog.Int("texts", len(texts)))

	return vectors, nil
}

// doWithRetry posts the payload, retrying 429/5xx/network failures on a
// fixed backoff schedule. A Retry-After header overrides the schedule,
// capped at maxRetryAfter. Other 4xx responses fail immediately.
func (e *JinaEmbedder) doWithRetry(ctx context.Context, payload []byte) (*embedResponse, error) {
	url := endpointURL(e.cfg.BaseURL, pathEmbeddings)

	var lastErr error
	var retryAfter time.Duration

	for attempt := 0; attempt <= len(jinaBackoffs); attempt++ {
		if attempt > 0 {
			delay := jinaBackoffs[attempt-1]
			if retryAfter > 0 {
				delay = retryAfter
				retryAfter = 0
			}
			e.log.Debug("jina_retry",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := e.doOnce(ctx, url, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !ragerrors.IsRetryable(err) {
			return nil, err
		}
		if re, ok := err.(*ragerrors.RagError); ok {
			retryAfter = parseRetryAfter(re.Details["retry_after"])
		}
	}

	return nil, fmt.Errorf("jina embedding failed after %d attempts: %w", len(jinaBackoffs)+1, lastErr)
}

func (e *JinaEmbedder) doOnce(ctx context.Context, url string, payload []byte) (*embedResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, ragerrors.InternalError("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.do(req, BackendJina, KindEmbedding)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out embedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&out); err != nil {
		metrics.RemoteRequests.WithLabelValues(BackendJina, KindEmbedding, "error").Inc()
		return nil, ragerrors.New(ragerrors.ErrCodeRemoteBadResponse,
			"failed to decode jina response", err)
	}

	metrics.RemoteRequests.WithLabelValues(BackendJina, KindEmbedding, "ok").Inc()
	return &out, nil
}

// Dim implements Embedder.
func (e *JinaEmbedder) Dim() int {
	return e.cfg.EmbeddingDim
}

// Shutdown implements Embedder. Idempotent.
func (e *JinaEmbedder) Shutdown() error {
	e.shutdown.Do(func() {
		e.client.closeIdle()
	})
	return nil
}

// parseRetryAfter reads a Retry-After value in seconds, capped at
// maxRetryAfter. HTTP-date forms and garbage yield zero.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}
