// Package retriever defines the retrieval engine contract consumed by the
// service facade and implements Lite, the built-in engine. Lite composes a
// chunking pipeline, an embedding provider, an HNSW vector index, a BM25
// keyword index and a set of JSON key-value stores under one working
// directory. It implements storage and retrieval wiring only; embedding,
// parsing and answer generation stay with the configured providers.
package retriever

import (
	"context"

	"github.com/ragforge/ragserver/internal/ingest"
	"github.com/ragforge/ragserver/internal/provider"
)

// Query modes.
const (
	// ModeNaive answers from vector similarity alone.
	ModeNaive = "naive"
	// ModeLocal favors exact keyword evidence over semantic neighbors.
	ModeLocal = "local"
	// ModeGlobal favors semantic neighbors and boosts chunks that mention
	// entities recognized in the query.
	ModeGlobal = "global"
	// ModeHybrid fuses both rankings evenly and applies the reranker when
	// one is configured.
	ModeHybrid = "hybrid"
)

// DefaultTopK is the number of chunks that make it into the answer context
// when the caller does not ask for a specific count.
const DefaultTopK = 10

// DefaultCandidates is the per-index candidate pool size fetched before
// fusion trims the list down to TopK.
const DefaultCandidates = 60

// Multimodal item types.
const (
	ItemImage    = "image"
	ItemTable    = "table"
	ItemEquation = "equation"
)

// Engine is the retrieval store behind the service facade. Implementations
// must be safe for concurrent use.
type Engine interface {
	// Init opens the on-disk storages. Idempotent.
	Init(ctx context.Context) error
	// ProcessDocument parses, chunks, embeds and indexes one document.
	// Reprocessing a document replaces its previous chunks.
	ProcessDocument(ctx context.Context, req ProcessRequest) error
	// Query retrieves relevant chunks and returns an answer.
	Query(ctx context.Context, query string, opts QueryOptions) (string, error)
	// QueryMultimodal folds non-text items into the query before retrieval.
	QueryMultimodal(ctx context.Context, query string, items []MultimodalItem, opts QueryOptions) (string, error)
	// Processed reports whether a document has been indexed.
	Processed(relPath string) bool
	// EntityKV exposes the per-document entity records.
	EntityKV() KVReader
	// RelationKV exposes the per-document relation records.
	RelationKV() KVReader
	// Close flushes and releases the storages. Idempotent.
	Close() error
}

// KVReader is a read-only view over one key-value namespace.
type KVReader interface {
	List(ctx context.Context) (map[string]map[string]any, error)
}

// ProcessRequest identifies one document to index.
type ProcessRequest struct {
	// AbsPath is the file to read.
	AbsPath string
	// RelPath is the stable document identifier (slash-separated, relative
	// to the upload root).
	RelPath string
	// Method overrides parser selection: auto, text, code or exec.
	Method string
	// OutputDir receives external-parser by-products. Optional.
	OutputDir string
}

// QueryOptions tunes one retrieval call. Zero values take defaults.
type QueryOptions struct {
	// Mode is naive, local, global or hybrid. Default hybrid.
	Mode string
	// TopK is the number of chunks included in the answer context.
	TopK int
	// MaxTokens caps the generated answer length.
	MaxTokens int
	// Temperature is passed through to the completion provider.
	Temperature float64
	// History is prior conversation turns, oldest first.
	History []provider.Message
}

func (o QueryOptions) withDefaults() QueryOptions {
	if o.Mode == "" {
		o.Mode = ModeHybrid
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	return o
}

// ValidMode reports whether mode names a supported retrieval mode.
func ValidMode(mode string) bool {
	switch mode {
	case "", ModeNaive, ModeLocal, ModeGlobal, ModeHybrid:
		return true
	}
	return false
}

// MultimodalItem is one non-text attachment of a multimodal query.
type MultimodalItem struct {
	// Type is image, table or equation.
	Type string `json:"type"`
	// ImagePath points at an image on disk (images only).
	ImagePath string `json:"image_path,omitempty"`
	// ImageData carries an inline base64 image. The facade persists it to
	// disk and rewrites the item to ImagePath before the engine sees it.
	ImageData string `json:"image_data,omitempty"`
	// Content is the table body or LaTeX source (tables and equations).
	Content string `json:"content,omitempty"`
	// Caption is an optional human description.
	Caption string `json:"caption,omitempty"`
}

// Providers carries the model bindings the engine works with. Embedder is
// required; the others are optional and unlock generation, reranking and
// image understanding when present.
type Providers struct {
	Embedder provider.Embedder
	LLM      provider.LLMCompleter
	Vision   provider.VisionCompleter
	Reranker provider.Reranker
}

// Config tunes the lite engine. Zero values take defaults.
type Config struct {
	// WorkingDir is the storage root. The engine keeps its files under
	// WorkingDir/retriever.
	WorkingDir string
	// KeywordBackend is "bleve" (default) or "sqlite".
	KeywordBackend string
	// Candidates is the per-index candidate pool size before fusion.
	Candidates int
	// VectorM and VectorEf tune the HNSW graph.
	VectorM  int
	VectorEf int
	// Ingest configures the chunking pipeline.
	Ingest ingest.Options
}

func (c Config) withDefaults() Config {
	if c.KeywordBackend == "" {
		c.KeywordBackend = KeywordBackendBleve
	}
	if c.Candidates <= 0 {
		c.Candidates = DefaultCandidates
	}
	return c
}
