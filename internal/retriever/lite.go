package retriever

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/ingest"
	"github.com/ragforge/ragserver/internal/metrics"
	"github.com/ragforge/ragserver/internal/provider"
)

// storageDirName is the engine's subdirectory under the working directory.
const storageDirName = "retriever"

// embedBatchSize bounds one Embed call during document processing. Remote
// providers cap request sizes well above this; the local runtime batches
// again internally.
const embedBatchSize = 64

// noContextAnswer is returned when retrieval finds nothing at all.
const noContextAnswer = "No relevant context was found in the indexed documents."

const answerSystem = "You are a careful assistant answering questions about the user's documents. " +
	"Use only the provided context. If the context does not contain the answer, say so plainly."

const answerPromptFormat = `Context:

%s

Question: %s

Answer the question using the context above.`

const describeImagePrompt = "Describe this image in two or three sentences so it can be matched against a document collection. Mention any visible text, labels and numbers."

// Mode weighting for rank fusion (keyword, vector).
var modeWeights = map[string][2]float64{
	ModeNaive:  {0, 1},
	ModeLocal:  {1, 0.5},
	ModeGlobal: {0.5, 1},
	ModeHybrid: {1, 1},
}

// entityBoost is added per distinct query entity found in a chunk when the
// mode is global.
const entityBoost = 0.15

// Lite is the built-in retrieval engine: JSON key-value stores for chunk,
// document, entity and relation records, an HNSW vector index and a BM25
// keyword index, all under <working_dir>/retriever. Parsing goes through
// the ingest pipeline; embedding, completion, reranking and vision go
// through the configured providers.
type Lite struct {
	cfg    Config
	models Providers
	parser ingest.Parser
	log    *slog.Logger

	// writeMu serializes document writes so a reprocess cannot interleave
	// with another write of the same document.
	writeMu sync.Mutex

	stateMu sync.Mutex
	inited  bool
	closed  bool

	chunks    *JSONKV
	docs      *JSONKV
	entities  *JSONKV
	relations *JSONKV
	vectors   *vectorIndex
	keyword   keywordIndex
}

var _ Engine = (*Lite)(nil)

// NewLite builds the engine. The embedder is required; LLM, vision and
// reranker are optional. Call Init before use.
func NewLite(cfg Config, models Providers, log *slog.Logger) (*Lite, error) {
	if models.Embedder == nil {
		return nil, ragerrors.ValidationError("lite retriever needs an embedding provider", nil)
	}
	if cfg.WorkingDir == "" {
		return nil, ragerrors.ValidationError("lite retriever needs a working directory", nil)
	}
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Lite{
		cfg:    cfg,
		models: models,
		parser: ingest.NewPipeline(cfg.Ingest),
		log:    log,
	}, nil
}

func (l *Lite) dir() string {
	return filepath.Join(l.cfg.WorkingDir, storageDirName)
}

// Init opens the storages. Idempotent; concurrent callers serialize.
func (l *Lite) Init(ctx context.Context) error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if l.closed {
		return ragerrors.New(ragerrors.ErrCodeNotInitialized, "retriever is closed", nil)
	}
	if l.inited {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := l.dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ragerrors.New(ragerrors.ErrCodeFilePermission,
			fmt.Sprintf("create retriever directory %s", dir), err)
	}

	var err error
	if l.chunks, err = OpenJSONKV(filepath.Join(dir, "chunks.json")); err != nil {
		return err
	}
	if l.docs, err = OpenJSONKV(filepath.Join(dir, "docs.json")); err != nil {
		return err
	}
	if l.entities, err = OpenJSONKV(filepath.Join(dir, "entities.json")); err != nil {
		return err
	}
	if l.relations, err = OpenJSONKV(filepath.Join(dir, "relations.json")); err != nil {
		return err
	}

	if l.keyword, err = openKeywordIndex(dir, l.cfg.KeywordBackend); err != nil {
		return err
	}

	l.vectors, err = openVectorIndex(filepath.Join(dir, "vectors.hnsw"),
		l.models.Embedder.Dim(), l.cfg.VectorM, l.cfg.VectorEf)
	if err != nil {
		_ = l.keyword.close()
		return err
	}

	l.inited = true
	l.log.Info("retriever_ready",
		slog.String("dir", dir),
		slog.String("keyword_backend", l.cfg.KeywordBackend),
		slog.Int("documents", l.docs.Len()),
		slog.Int("chunks", l.chunks.Len()))
	return nil
}

// requireInit gates every operation that touches the storages. The fields
// set during Init are immutable afterwards, so reading them without the
// state lock is safe once this returns nil.
func (l *Lite) requireInit() error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.closed {
		return ragerrors.New(ragerrors.ErrCodeNotInitialized, "retriever is closed", nil)
	}
	if !l.inited {
		return ragerrors.New(ragerrors.ErrCodeNotInitialized, "retriever is not initialized", nil)
	}
	return nil
}

// ProcessDocument parses, embeds and indexes one document, replacing any
// previously indexed version.
func (l *Lite) ProcessDocument(ctx context.Context, req ProcessRequest) error {
	if err := l.requireInit(); err != nil {
		return err
	}
	if req.AbsPath == "" || req.RelPath == "" {
		return ragerrors.ValidationError("process request needs both an absolute and a relative path", nil)
	}

	doc, err := l.parser.Parse(ctx, ingest.Request{
		AbsPath:   req.AbsPath,
		RelPath:   req.RelPath,
		Method:    req.Method,
		OutputDir: req.OutputDir,
	})
	if err != nil {
		return err
	}

	vecs, err := l.embedChunks(ctx, doc.Chunks)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.dropDocumentLocked(ctx, req.RelPath); err != nil {
		return err
	}

	ids := make([]string, len(doc.Chunks))
	kwDocs := make([]keywordDoc, len(doc.Chunks))
	for i, c := range doc.Chunks {
		ids[i] = c.ID
		kwDocs[i] = keywordDoc{ID: c.ID, Text: c.Text}
	}

	if err := l.vectors.add(ids, vecs); err != nil {
		return err
	}
	if err := l.keyword.index(ctx, kwDocs); err != nil {
		return err
	}
	for _, c := range doc.Chunks {
		l.chunks.Put(c.ID, map[string]any{
			"text":   c.Text,
			"source": req.RelPath,
			"kind":   c.Kind,
			"order":  c.Order,
			"meta":   c.Meta,
		})
	}

	if l.models.LLM != nil && len(doc.Chunks) > 0 {
		if err := l.extractGraph(ctx, req.RelPath, doc.Chunks); err != nil {
			// Graph records enrich queries and the graph endpoints; the
			// document is still retrievable without them.
			l.log.Warn("graph_extraction_failed",
				slog.String("source", req.RelPath),
				slog.String("error", err.Error()))
		}
	}

	l.docs.Put(req.RelPath, map[string]any{
		"processed":    true,
		"chunk_count":  len(doc.Chunks),
		"processed_at": time.Now().UTC().Format(time.RFC3339),
	})

	if err := l.flushLocked(); err != nil {
		return err
	}

	metrics.ChunksIndexed.Add(float64(len(doc.Chunks)))
	l.log.Info("document_indexed",
		slog.String("source", req.RelPath),
		slog.Int("chunks", len(doc.Chunks)))
	return nil
}

// embedChunks embeds chunk texts in bounded batches.
func (l *Lite) embedChunks(ctx context.Context, chunks []ingest.Chunk) ([][]float32, error) {
	vecs := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		batch, err := l.models.Embedder.Embed(ctx, texts, nil)
		if err != nil {
			return nil, err
		}
		if len(batch) != len(texts) {
			return nil, ragerrors.New(ragerrors.ErrCodeBadUpstream,
				fmt.Sprintf("embedder returned %d vectors for %d texts", len(batch), len(texts)), nil)
		}
		vecs = append(vecs, batch...)
	}
	return vecs, nil
}

// dropDocumentLocked removes every trace of relPath from the storages.
// Caller holds writeMu.
func (l *Lite) dropDocumentLocked(ctx context.Context, relPath string) error {
	all, err := l.chunks.List(ctx)
	if err != nil {
		return err
	}

	var stale []string
	for id, rec := range all {
		if src, _ := rec["source"].(string); src == relPath {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		l.vectors.remove(stale)
		if err := l.keyword.remove(ctx, stale); err != nil {
			return err
		}
		for _, id := range stale {
			l.chunks.Delete(id)
		}
	}

	l.docs.Delete(relPath)
	l.entities.Delete(relPath)
	l.relations.Delete(relPath)
	return nil
}

// flushLocked persists every storage. Caller holds writeMu.
func (l *Lite) flushLocked() error {
	return errors.Join(
		l.chunks.Flush(),
		l.docs.Flush(),
		l.entities.Flush(),
		l.relations.Flush(),
		l.vectors.save(),
	)
}

// Query retrieves relevant chunks and answers from them. Without a
// completion provider the formatted context itself is the answer.
func (l *Lite) Query(ctx context.Context, query string, opts QueryOptions) (string, error) {
	if err := l.requireInit(); err != nil {
		return "", err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ragerrors.ValidationError("query is empty", nil)
	}
	if !ValidMode(opts.Mode) {
		return "", ragerrors.ValidationError(
			fmt.Sprintf("unknown query mode %q", opts.Mode), nil).
			WithDetail("allowed", "naive, local, global, hybrid")
	}
	opts = opts.withDefaults()

	timer := prometheus.NewTimer(metrics.QuerySeconds.WithLabelValues(opts.Mode))
	defer timer.ObserveDuration()

	hits, err := l.retrieve(ctx, query, opts)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return noContextAnswer, nil
	}

	contextBlock := formatContext(hits)
	if l.models.LLM == nil {
		return contextBlock, nil
	}

	answer, err := l.models.LLM.Complete(ctx,
		fmt.Sprintf(answerPromptFormat, contextBlock, query),
		provider.CompleteOptions{
			System:      answerSystem,
			History:     opts.History,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// QueryMultimodal folds item descriptions into the query text, then runs a
// normal query. Image items are described by the vision provider when one
// is configured; otherwise their caption or filename stands in.
func (l *Lite) QueryMultimodal(ctx context.Context, query string, items []MultimodalItem, opts QueryOptions) (string, error) {
	if len(items) == 0 {
		return l.Query(ctx, query, opts)
	}

	descs := make([]string, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case ItemImage:
			descs = append(descs, l.describeImage(ctx, item))
		case ItemTable:
			desc := "Table:\n" + item.Content
			if item.Caption != "" {
				desc = "Table (" + item.Caption + "):\n" + item.Content
			}
			descs = append(descs, desc)
		case ItemEquation:
			descs = append(descs, "Equation: "+item.Content)
		default:
			return "", ragerrors.ValidationError(
				fmt.Sprintf("unsupported multimodal item type %q", item.Type), nil).
				WithDetail("allowed", "image, table, equation")
		}
	}

	augmented := strings.Join(descs, "\n") + "\n\n" + query
	return l.Query(ctx, augmented, opts)
}

// describeImage turns one image item into query text.
func (l *Lite) describeImage(ctx context.Context, item MultimodalItem) string {
	if l.models.Vision != nil && item.ImagePath != "" {
		raw, err := os.ReadFile(item.ImagePath)
		if err != nil {
			l.log.Warn("query_image_unreadable",
				slog.String("path", item.ImagePath),
				slog.String("error", err.Error()))
		} else {
			desc, err := l.models.Vision.CompleteWithImages(ctx, describeImagePrompt,
				[]string{base64.StdEncoding.EncodeToString(raw)},
				provider.CompleteOptions{MaxTokens: 300})
			if err != nil {
				l.log.Warn("image_description_failed",
					slog.String("path", item.ImagePath),
					slog.String("error", err.Error()))
			} else if s := strings.TrimSpace(desc); s != "" {
				return "Image: " + s
			}
		}
	}
	if item.Caption != "" {
		return "Image: " + item.Caption
	}
	if item.ImagePath != "" {
		return "Image file: " + filepath.Base(item.ImagePath)
	}
	return "An image was attached."
}

// scoredChunk is one retrieved chunk resolved to its text.
type scoredChunk struct {
	ID     string
	Text   string
	Source string
	Score  float64
}

// retrieve runs the mode-specific ranking and resolves the winners.
func (l *Lite) retrieve(ctx context.Context, query string, opts QueryOptions) ([]scoredChunk, error) {
	qvecs, err := l.models.Embedder.Embed(ctx, []string{query}, nil)
	if err != nil {
		return nil, err
	}
	if len(qvecs) != 1 {
		return nil, ragerrors.New(ragerrors.ErrCodeBadUpstream,
			fmt.Sprintf("embedder returned %d vectors for one query", len(qvecs)), nil)
	}

	vhits, err := l.vectors.search(qvecs[0], l.cfg.Candidates)
	if err != nil {
		return nil, err
	}

	var khits []keywordHit
	if opts.Mode != ModeNaive {
		khits, err = l.keyword.search(ctx, query, l.cfg.Candidates)
		if err != nil {
			// The vector side still carries the query.
			l.log.Warn("keyword_search_failed", slog.String("error", err.Error()))
			khits = nil
		}
	}

	w := modeWeights[opts.Mode]
	fused := fuseRanked(khits, vhits, w[0], w[1])
	chunks := l.resolveChunks(fused)

	if opts.Mode == ModeGlobal {
		l.boostByEntities(query, chunks)
	}
	if opts.Mode == ModeHybrid && l.models.Reranker != nil {
		l.rerank(ctx, query, chunks, opts.TopK)
	}

	if len(chunks) > opts.TopK {
		chunks = chunks[:opts.TopK]
	}
	return chunks, nil
}

// resolveChunks loads chunk texts from the KV store, dropping IDs that no
// longer resolve (deleted between index update and KV flush).
func (l *Lite) resolveChunks(fused []fusedHit) []scoredChunk {
	chunks := make([]scoredChunk, 0, len(fused))
	for _, h := range fused {
		rec, ok := l.chunks.Get(h.ID)
		if !ok {
			continue
		}
		text, _ := rec["text"].(string)
		source, _ := rec["source"].(string)
		if text == "" {
			continue
		}
		chunks = append(chunks, scoredChunk{ID: h.ID, Text: text, Source: source, Score: h.Score})
	}
	return chunks
}

// boostByEntities raises chunks mentioning entities that also appear in the
// query, then restores score order. No-op when the query names no known
// entity.
func (l *Lite) boostByEntities(query string, chunks []scoredChunk) {
	mentioned := l.queryEntities(query)
	if len(mentioned) == 0 {
		return
	}

	for i := range chunks {
		text := strings.ToLower(chunks[i].Text)
		count := 0
		for _, name := range mentioned {
			if strings.Contains(text, name) {
				count++
			}
		}
		chunks[i].Score += entityBoost * float64(count)
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
}

// queryEntities returns known entity names (lowercased) present in the
// query.
func (l *Lite) queryEntities(query string) []string {
	q := strings.ToLower(query)
	seen := make(map[string]struct{})
	var mentioned []string
	for _, key := range l.entities.Keys() {
		rec, ok := l.entities.Get(key)
		if !ok {
			continue
		}
		for _, name := range StringValues(rec["entity_names"]) {
			lower := strings.ToLower(strings.TrimSpace(name))
			if lower == "" {
				continue
			}
			if _, dup := seen[lower]; dup {
				continue
			}
			if strings.Contains(q, lower) {
				seen[lower] = struct{}{}
				mentioned = append(mentioned, lower)
			}
		}
	}
	return mentioned
}

// rerank reorders the head of the candidate list with the reranker. Scoring
// failures keep the fused order.
func (l *Lite) rerank(ctx context.Context, query string, chunks []scoredChunk, topK int) {
	n := topK * 3
	if n > len(chunks) {
		n = len(chunks)
	}
	if n < 2 {
		return
	}

	docs := make([]string, n)
	for i := 0; i < n; i++ {
		docs[i] = chunks[i].Text
	}
	scores, err := l.models.Reranker.Rerank(ctx, query, docs)
	if err != nil {
		l.log.Warn("rerank_failed", slog.String("error", err.Error()))
		return
	}
	if len(scores) != n {
		l.log.Warn("rerank_score_count_mismatch",
			slog.Int("want", n), slog.Int("got", len(scores)))
		return
	}

	head := chunks[:n]
	for i := range head {
		head[i].Score = scores[i]
	}
	sort.SliceStable(head, func(i, j int) bool { return head[i].Score > head[j].Score })
}

// formatContext renders retrieved chunks as a numbered context block.
func formatContext(chunks []scoredChunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s\n%s", i+1, c.Source, c.Text)
	}
	return b.String()
}

// Processed reports whether relPath has been indexed.
func (l *Lite) Processed(relPath string) bool {
	if err := l.requireInit(); err != nil {
		return false
	}
	rec, ok := l.docs.Get(relPath)
	if !ok {
		return false
	}
	processed, _ := rec["processed"].(bool)
	return processed
}

// EntityKV exposes the per-document entity records.
func (l *Lite) EntityKV() KVReader {
	if err := l.requireInit(); err != nil {
		return emptyKV{}
	}
	return l.entities
}

// RelationKV exposes the per-document relation records.
func (l *Lite) RelationKV() KVReader {
	if err := l.requireInit(); err != nil {
		return emptyKV{}
	}
	return l.relations
}

// Close flushes and releases the storages. Idempotent.
func (l *Lite) Close() error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if closer, ok := l.parser.(interface{ Close() }); ok {
		closer.Close()
	}
	if !l.inited {
		return nil
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	err := errors.Join(
		l.chunks.Flush(),
		l.docs.Flush(),
		l.entities.Flush(),
		l.relations.Flush(),
		l.vectors.save(),
	)
	return errors.Join(err, l.vectors.close(), l.keyword.close())
}

// emptyKV backs the KV accessors before Init.
type emptyKV struct{}

func (emptyKV) List(ctx context.Context) (map[string]map[string]any, error) {
	return map[string]map[string]any{}, nil
}
