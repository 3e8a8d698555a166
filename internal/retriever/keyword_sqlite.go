package retriever

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// sqliteIndex is the FTS5 keyword backend. Content is pre-tokenized with
// the shared identifier-aware rules before it reaches FTS5, so both
// backends rank the same way.
type sqliteIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	stop   map[string]struct{}
	closed bool
}

var _ keywordIndex = (*sqliteIndex)(nil)

// newSQLiteIndex opens or creates the FTS5 database at path. An empty path
// gives an in-memory index for tests. A corrupt database is cleared and
// recreated; the next reindex repopulates it.
func newSQLiteIndex(path string) (*sqliteIndex, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create keyword index directory: %w", err)
		}

		if validErr := checkSQLiteIntegrity(path); validErr != nil {
			slog.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("keyword index corrupted and cannot be removed: %w (original: %v)", removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			slog.Info("keyword_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, reindex to repopulate"))
		}

		// Same pragma discipline as the catalog: applied per pooled
		// connection, busy_timeout first.
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}
	// Single writer keeps FTS5 transactions from contending with each
	// other.
	db.SetMaxOpenConns(1)

	s := &sqliteIndex{db: db, path: path, stop: stopWordSet(defaultStopWords)}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize keyword schema: %w", err)
	}
	return s, nil
}

// checkSQLiteIntegrity validates an existing database on a read-only
// connection. A missing file is fine.
func checkSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='fts_chunks'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("fts_chunks table missing")
	}
	return nil
}

func (s *sqliteIndex) initSchema() error {
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
		doc_id UNINDEXED,
		text,
		tokenize='unicode61'
	);

	-- FTS5 rowids are not a reliable ID listing, so IDs are tracked apart.
	CREATE TABLE IF NOT EXISTS chunk_ids (
		doc_id TEXT PRIMARY KEY
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteIndex) index(ctx context.Context, docs []keywordDoc) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("keyword index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin keyword transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FTS5 has no REPLACE, so updates are delete then insert.
	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_chunks WHERE doc_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `INSERT INTO fts_chunks(doc_id, text) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insertStmt.Close()

	idStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO chunk_ids(doc_id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("prepare id insert: %w", err)
	}
	defer idStmt.Close()

	for _, doc := range docs {
		tokens := dropStopWords(tokenizeText(doc.Text), s.stop)
		processed := strings.Join(tokens, " ")

		if _, err := deleteStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("delete chunk %s: %w", doc.ID, err)
		}
		if _, err := insertStmt.ExecContext(ctx, doc.ID, processed); err != nil {
			return fmt.Errorf("index chunk %s: %w", doc.ID, err)
		}
		if _, err := idStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("track chunk %s: %w", doc.ID, err)
		}
	}

	return tx.Commit()
}

func (s *sqliteIndex) search(ctx context.Context, query string, limit int) ([]keywordHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []keywordHit{}, nil
	}

	tokens := dropStopWords(tokenizeText(query), s.stop)
	if len(tokens) == 0 {
		return []keywordHit{}, nil
	}
	// Space-separated terms are implicit AND in FTS5; OR keeps recall on
	// multi-term queries comparable to the bleve match query.
	processed := strings.Join(tokens, " OR ")

	// bm25() is negative, lower is better; negate so higher is better.
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_chunks) AS score
		FROM fts_chunks
		WHERE text MATCH ?
		ORDER BY score
		LIMIT ?
	`, processed, limit)
	if err != nil {
		// FTS5 rejects some token sequences as syntax; treat as no match.
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []keywordHit{}, nil
		}
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []keywordHit
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan keyword hit: %w", err)
		}
		hits = append(hits, keywordHit{ID: id, Score: -score, MatchedTerms: tokens})
	}
	return hits, rows.Err()
}

func (s *sqliteIndex) remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("keyword index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin keyword transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	in := strings.Join(placeholders, ",")

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM fts_chunks WHERE doc_id IN (%s)", in), args...); err != nil {
		return fmt.Errorf("delete keyword chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM chunk_ids WHERE doc_id IN (%s)", in), args...); err != nil {
		return fmt.Errorf("delete keyword ids: %w", err)
	}

	return tx.Commit()
}

func (s *sqliteIndex) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chunk_ids`).Scan(&n); err != nil {
		return 0
	}
	return n
}

func (s *sqliteIndex) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
