// Package provider defines the capability contracts for model backends
// (embedding, reranking, completion, vision) and the adapters that implement
// them against remote APIs or the in-process native encoder runtime.
package provider

import (
	"context"
	"strings"
)

// Kind identifies what a model is used for.
const (
	KindLLM       = "llm"
	KindVision    = "vision"
	KindEmbedding = "embedding"
	KindReranker  = "reranker"
)

// Backend identifies how a model is reached.
const (
	// BackendOpenAI is any OpenAI-compatible REST endpoint.
	BackendOpenAI = "openai"
	// BackendJina is the Jina AI REST API (embedding requests must not
	// carry encoding_format).
	BackendJina = "jina"
	// BackendAnthropic is the Anthropic REST API.
	BackendAnthropic = "anthropic"
	// BackendLocalGPU is the in-process native encoder runtime.
	BackendLocalGPU = "local_gpu"
	// BackendLocal is a legacy alias for BackendLocalGPU when paired with a
	// CUDA device hint. Kept so old config files keep working.
	BackendLocal = "local"
)

// ModelConfig describes one configured model binding.
type ModelConfig struct {
	// Kind is llm, vision, embedding or reranker. Filled from the config
	// section key when omitted.
	Kind    string `yaml:"kind,omitempty" json:"kind,omitempty"`
	Backend string `yaml:"backend" json:"backend"`
	Model   string `yaml:"model" json:"model"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKey is required for remote commercial backends. Usually supplied
	// via RAGSERVER_*_API_KEY rather than the config file.
	APIKey string `yaml:"api_key" json:"api_key"`
	// EmbeddingDim is required for remote embedding backends; local
	// backends self-report their dimension.
	EmbeddingDim int `yaml:"embedding_dim" json:"embedding_dim"`
	// Device hints the native runtime placement (cuda, cuda:0, cpu).
	Device string `yaml:"device" json:"device"`
	// Extra carries backend-specific parameters passed through verbatim
	// (e.g. jina task/dimensions, temperature defaults).
	Extra map[string]any `yaml:"extra" json:"extra"`
}

// IsConfigured reports whether this binding names a model at all.
func (m ModelConfig) IsConfigured() bool {
	return m.Model != "" || m.Backend != "" || m.BaseURL != ""
}

// IsRemote reports whether the backend is reached over HTTP.
func (m ModelConfig) IsRemote() bool {
	switch m.Backend {
	case BackendLocalGPU, BackendLocal:
		return false
	}
	return true
}

// WantsLocalGPU reports whether the binding targets the in-process runtime,
// including the legacy backend=local + CUDA device shape.
func (m ModelConfig) WantsLocalGPU() bool {
	if m.Backend == BackendLocalGPU {
		return true
	}
	return m.Backend == BackendLocal && strings.HasPrefix(strings.ToLower(m.Device), "cuda")
}

// Params carries per-call hints (priority tags, scheduling hints).
// Implementations accept and ignore keys they do not understand.
type Params map[string]any

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompleteOptions tunes a completion call. Zero values mean provider
// defaults.
type CompleteOptions struct {
	System      string
	History     []Message
	MaxTokens   int
	Temperature float64
	// Extra is passed through to the request body verbatim.
	Extra map[string]any
}

// StreamChunk is one delta of a streaming completion. Err is set on the
// final chunk when the stream failed; the channel closes afterwards either
// way.
type StreamChunk struct {
	Delta string
	Err   error
}

// Embedder turns texts into vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order. Empty input
	// returns an empty non-nil slice without provider I/O.
	Embed(ctx context.Context, texts []string, params Params) ([][]float32, error)
	// Dim is the embedding dimension.
	Dim() int
	// Shutdown releases resources. Idempotent.
	Shutdown() error
}

// Reranker scores documents against a query. Higher is more relevant; the
// scale is provider-defined.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]float64, error)
	Shutdown() error
}

// LLMCompleter generates text.
type LLMCompleter interface {
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error)
	// CompleteStream yields deltas in generation order. The channel closes
	// after the final chunk.
	CompleteStream(ctx context.Context, prompt string, opts CompleteOptions) (<-chan StreamChunk, error)
	Shutdown() error
}

// VisionCompleter generates text from a prompt plus base64-encoded images.
// With no images the call degrades to plain completion.
type VisionCompleter interface {
	CompleteWithImages(ctx context.Context, prompt string, images []string, opts CompleteOptions) (string, error)
	Shutdown() error
}
