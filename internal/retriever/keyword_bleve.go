package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

// Registry names for the chunk analyzer. Registration is global to the
// process, hence the init hook.
const (
	chunkTokenizerName = "chunk_tokenizer"
	chunkStopName      = "chunk_stop"
	chunkAnalyzerName  = "chunk_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(chunkTokenizerName, newChunkTokenizer)
	_ = registry.RegisterTokenFilter(chunkStopName, newChunkStopFilter)
}

// bleveIndex is the default keyword backend.
type bleveIndex struct {
	mu     sync.RWMutex
	idx    bleve.Index
	path   string
	closed bool
}

var _ keywordIndex = (*bleveIndex)(nil)

// bleveChunk is the indexed document shape.
type bleveChunk struct {
	Text string `json:"text"`
}

// newBleveIndex opens or creates the index at path. An empty path gives an
// in-memory index for tests. A torn on-disk index (interrupted write,
// binary upgrade) is cleared and recreated; the next reindex repopulates it.
func newBleveIndex(path string) (*bleveIndex, error) {
	mapping := bleve.NewIndexMapping()
	err := mapping.AddCustomAnalyzer(chunkAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": chunkTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			chunkStopName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("register chunk analyzer: %w", err)
	}
	mapping.DefaultAnalyzer = chunkAnalyzerName

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create keyword index directory: %w", err)
		}

		if validErr := checkBleveIntegrity(path); validErr != nil {
			slog.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted and cannot be removed: %w (original: %v)", removeErr, validErr)
			}
			slog.Info("keyword_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, reindex to repopulate"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		} else if err != nil && looksCorrupt(err) {
			slog.Warn("keyword_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted and cannot be removed: %w (original: %v)", removeErr, err)
			}
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	return &bleveIndex{idx: idx, path: path}, nil
}

// checkBleveIntegrity catches torn indexes before bleve.Open trips over
// them: the meta file must exist, be non-empty and parse as JSON.
func checkBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// looksCorrupt classifies bleve open errors that a clear-and-recreate fixes.
func looksCorrupt(err error) bool {
	if err == nil {
		return false
	}
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt")
}

func (b *bleveIndex) index(ctx context.Context, docs []keywordDoc) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := b.idx.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveChunk{Text: doc.Text}); err != nil {
			return fmt.Errorf("index chunk %s: %w", doc.ID, err)
		}
	}
	if err := b.idx.Batch(batch); err != nil {
		return fmt.Errorf("write keyword batch: %w", err)
	}
	return nil
}

func (b *bleveIndex) search(ctx context.Context, query string, limit int) ([]keywordHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []keywordHit{}, nil
	}

	match := bleve.NewMatchQuery(query)
	match.SetField("text")

	req := bleve.NewSearchRequest(match)
	req.Size = limit
	req.IncludeLocations = true

	res, err := b.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	hits := make([]keywordHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, keywordHit{
			ID:           hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return hits, nil
}

func (b *bleveIndex) remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := b.idx.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.idx.Batch(batch); err != nil {
		return fmt.Errorf("delete keyword batch: %w", err)
	}
	return nil
}

func (b *bleveIndex) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	n, _ := b.idx.DocCount()
	return int(n)
}

func (b *bleveIndex) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.idx != nil {
		return b.idx.Close()
	}
	return nil
}

// matchedTerms collects the distinct terms that matched in the text field.
func matchedTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "text" {
			continue
		}
		for term := range locations {
			seen[term] = struct{}{}
		}
	}
	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	return terms
}

// newChunkTokenizer adapts tokenizeText to bleve's tokenizer contract.
func newChunkTokenizer(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &chunkTokenizer{}, nil
}

type chunkTokenizer struct{}

func (t *chunkTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := tokenizeText(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		// Best-effort offsets: find the token in the remaining text.
		start := strings.Index(strings.ToLower(text[offset:]), token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		stream = append(stream, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return stream
}

// newChunkStopFilter builds the stop-word filter over defaultStopWords.
func newChunkStopFilter(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &chunkStopFilter{stop: stopWordSet(defaultStopWords)}, nil
}

type chunkStopFilter struct {
	stop map[string]struct{}
}

func (f *chunkStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stop[strings.ToLower(string(token.Term))]; !isStop {
			out = append(out, token)
		}
	}
	return out
}
