package retriever

import (
	"context"
	"fmt"
	"path/filepath"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// Keyword index backends.
const (
	// KeywordBackendBleve is the default: a bleve index directory. Single
	// process only (bolt file lock).
	KeywordBackendBleve = "bleve"
	// KeywordBackendSQLite stores postings in a SQLite FTS5 table with WAL
	// mode, which tolerates concurrent readers in other processes.
	KeywordBackendSQLite = "sqlite"
)

// keywordDoc is one chunk handed to the keyword index.
type keywordDoc struct {
	ID   string
	Text string
}

// keywordHit is one BM25 search result, best first.
type keywordHit struct {
	ID           string
	Score        float64
	MatchedTerms []string
}

// keywordIndex is BM25 retrieval over chunk text. Both backends tokenize
// with the same identifier-aware rules so relevance does not depend on the
// backend choice.
type keywordIndex interface {
	index(ctx context.Context, docs []keywordDoc) error
	search(ctx context.Context, query string, limit int) ([]keywordHit, error)
	remove(ctx context.Context, ids []string) error
	count() int
	close() error
}

// openKeywordIndex creates or opens the configured backend under dir.
func openKeywordIndex(dir, backend string) (keywordIndex, error) {
	switch backend {
	case KeywordBackendBleve, "":
		return newBleveIndex(filepath.Join(dir, "keyword.bleve"))
	case KeywordBackendSQLite:
		return newSQLiteIndex(filepath.Join(dir, "keyword.db"))
	default:
		return nil, ragerrors.ValidationError(
			fmt.Sprintf("unknown keyword backend %q", backend), nil).
			WithDetail("allowed", "bleve, sqlite")
	}
}
