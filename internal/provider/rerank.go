package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// pathRerank is the conventional rerank endpoint suffix.
const pathRerank = "/rerank"

// rerankDialect selects the request/response wire shape. Commercial rerank
// APIs agree on almost nothing, so the dialect is detected once at
// construction from the binding's backend, base URL, and model name.
type rerankDialect string

const (
	dialectJina   rerankDialect = "jina"
	dialectCohere rerankDialect = "cohere"
	dialectVoyage rerankDialect = "voyage"
	dialectOpenAI rerankDialect = "openai"
)

// Default endpoints per dialect, used when the binding names none.
var rerankBaseURLs = map[rerankDialect]string{
	dialectJina:   "https://api.jina.ai/v1/rerank",
	dialectCohere: "https://api.cohere.ai/v1/rerank",
	dialectVoyage: "https://api.voyageai.com/v1/rerank",
}

// detectRerankDialect probes backend, base URL, and model for a known
// provider substring. Anything unrecognized is treated as OpenAI-compatible.
func detectRerankDialect(cfg ModelConfig) rerankDialect {
	probe := strings.ToLower(cfg.Backend + " " + cfg.BaseURL + " " + cfg.Model)
	switch {
	case strings.Contains(probe, "jina"):
		return dialectJina
	case strings.Contains(probe, "cohere"):
		return dialectCohere
	case strings.Contains(probe, "voyage"):
		return dialectVoyage
	default:
		return dialectOpenAI
	}
}

// RemoteReranker scores documents through a hosted rerank API.
type RemoteReranker struct {
	cfg     ModelConfig
	dialect rerankDialect
	client  *remoteClient
	log     *slog.Logger

	shutdown sync.Once
}

var _ Reranker = (*RemoteReranker)(nil)

// NewRemoteReranker builds the adapter for cfg.
func NewRemoteReranker(cfg ModelConfig, log *slog.Logger) (*RemoteReranker, error) {
	if cfg.Model == "" {
		return nil, ragerrors.ValidationError("reranker binding names no model", nil)
	}
	if cfg.APIKey == "" {
		return nil, ragerrors.ValidationError("remote reranker binding requires api_key", nil).
			WithSuggestion("set RAGSERVER_RERANKER_API_KEY or reranker.api_key")
	}

	dialect := detectRerankDialect(cfg)
	if cfg.BaseURL == "" {
		base, ok := rerankBaseURLs[dialect]
		if !ok {
			return nil, ragerrors.ValidationError(
				"openai-compatible reranker binding requires base_url", nil)
		}
		cfg.BaseURL = base
	}
	if log == nil {
		log = slog.Default()
	}

	return &RemoteReranker{
		cfg:     cfg,
		dialect: dialect,
		client:  newRemoteClient(),
		log:     log,
	}, nil
}

// Rerank implements Reranker. Scores come back in input order: results are
// re-keyed by their index, missing entries stay zero, excess entries are
// dropped.
func (r *RemoteReranker) Rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return []float64{}, nil
	}

	body := map[string]any{
		"model":     r.cfg.Model,
		"query":     query,
		"documents": docs,
	}
	switch r.dialect {
	case dialectJina, dialectCohere:
		body["top_n"] = len(docs)
		body["return_documents"] = false
	case dialectVoyage:
		body["top_k"] = len(docs)
	}

	url := endpointURL(r.cfg.BaseURL, pathRerank)
	resp, err := ragerrors.RetryWithResult(ctx, ragerrors.RemoteRetryConfig(), func() (*rerankResponse, error) {
		var out rerankResponse
		if err := r.client.postJSON(ctx, url, r.cfg.APIKey, body, &out, rerankTimeout, string(r.dialect), KindReranker); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}

	items := resp.Results
	if r.dialect == dialectVoyage {
		items = resp.Data
	}
	if len(items) == 0 {
		return nil, ragerrors.New(ragerrors.ErrCodeRemoteBadResponse,
			fmt.Sprintf("rerank response carries no results for %d documents", len(docs)), nil)
	}

	scores := make([]float64, len(docs))
	for _, item := range items {
		if item.Index < 0 || item.Index >= len(docs) {
			continue
		}
		switch r.dialect {
		case dialectOpenAI:
			if item.Score != nil {
				scores[item.Index] = *item.Score
			}
		default:
			if item.RelevanceScore != nil {
				scores[item.Index] = *item.RelevanceScore
			}
		}
	}

	r.log.Debug("remote_rerank",
		slog.String("dialect", string(r.dialect)),
		slog.String("model", r.cfg.Model),
		slog.Int("docs", len(docs)))

	return scores, nil
}

// Shutdown implements Reranker. Idempotent.
func (r *RemoteReranker) Shutdown() error {
	r.shutdown.Do(func() {
		r.client.closeIdle()
	})
	return nil
}

// rerankResponse covers every dialect: jina/cohere put items under results
// with relevance_score, voyage under data with relevance_score,
// openai-compatible under results with score.
type rerankResponse struct {
	Results []rerankResult `json:"results"`
	Data    []rerankResult `json:"data"`
}

type rerankResult struct {
	Index          int      `json:"index"`
	RelevanceScore *float64 `json:"relevance_score"`
	Score          *float64 `json:"score"`
}
