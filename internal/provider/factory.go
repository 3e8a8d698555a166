package provider

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ragforge/ragserver/internal/batch"
	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// NewEmbedder selects and builds the embedder for cfg, wrapped in an LRU
// cache. local_gpu bindings run behind the batch scheduler configured by
// schedCfg; remote bindings pick the Jina adapter when the model or base
// URL names jina, and the OpenAI-compatible adapter otherwise.
func NewEmbedder(ctx context.Context, cfg ModelConfig, schedCfg batch.Config, log *slog.Logger) (Embedder, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Kind == "" {
		cfg.Kind = KindEmbedding
	}

	var (
		inner Embedder
		err   error
	)
	switch {
	case cfg.WantsLocalGPU():
		warnLegacyLocal(cfg, log)
		inner, err = NewLocalEmbedder(ctx, cfg, schedCfg, log)
	case isJinaBinding(cfg):
		inner, err = NewJinaEmbedder(cfg, log)
	default:
		inner, err = NewOpenAIClient(cfg, log)
	}
	if err != nil {
		return nil, err
	}

	return NewCachedEmbedder(inner, cfg.Model, DefaultEmbeddingCacheSize), nil
}

// NewReranker selects and builds the reranker for cfg. local_gpu and
// backend=local bindings load a native session (cuda and cpu placement
// respectively); remote bindings pick the wire dialect by provider
// substring.
func NewReranker(cfg ModelConfig, log *slog.Logger) (Reranker, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Kind == "" {
		cfg.Kind = KindReranker
	}

	switch {
	case cfg.WantsLocalGPU():
		warnLegacyLocal(cfg, log)
		if cfg.Device == "" {
			cfg.Device = "cuda"
		}
		return NewLocalReranker(cfg, log)
	case cfg.Backend == BackendLocal:
		if cfg.Device == "" {
			cfg.Device = "cpu"
		}
		return NewLocalReranker(cfg, log)
	default:
		return NewRemoteReranker(cfg, log)
	}
}

// NewLLM builds the completion client for cfg. All remote chat surfaces go
// through the OpenAI-compatible adapter.
func NewLLM(cfg ModelConfig, log *slog.Logger) (LLMCompleter, error) {
	if cfg.Kind == "" {
		cfg.Kind = KindLLM
	}
	if !cfg.IsRemote() {
		return nil, ragerrors.ValidationError("llm binding requires a remote backend", nil).
			WithSuggestion("point base_url at an OpenAI-compatible chat endpoint")
	}
	return NewOpenAIClient(cfg, log)
}

// NewVision builds the vision client for cfg.
func NewVision(cfg ModelConfig, log *slog.Logger) (VisionCompleter, error) {
	if cfg.Kind == "" {
		cfg.Kind = KindVision
	}
	if !cfg.IsRemote() {
		return nil, ragerrors.ValidationError("vision binding requires a remote backend", nil).
			WithSuggestion("point base_url at an OpenAI-compatible chat endpoint")
	}
	return NewOpenAIClient(cfg, log)
}

// isJinaBinding detects the Jina dialect from the model name or base URL.
func isJinaBinding(cfg ModelConfig) bool {
	if cfg.Backend == BackendJina {
		return true
	}
	probe := strings.ToLower(cfg.Model + " " + cfg.BaseURL)
	return strings.Contains(probe, "jina")
}

// warnLegacyLocal flags the pre-1.0 config shape backend=local with a CUDA
// device, which is honored as local_gpu but should be migrated.
func warnLegacyLocal(cfg ModelConfig, log *slog.Logger) {
	if cfg.Backend == BackendLocal {
		log.Warn("legacy_local_backend",
			slog.String("kind", cfg.Kind),
			slog.String("device", cfg.Device),
			slog.String("hint", "backend=local with a CUDA device is treated as local_gpu; update the config"))
	}
}
