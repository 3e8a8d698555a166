// Package catalog tracks the indexing state of every uploaded document.
//
// The catalog is a single-table SQLite database keyed by relative file
// path. The background indexer reconciles the upload tree against it,
// claims PENDING rows before dispatch, and records the outcome of each
// processing attempt. Many short-lived connections may touch the store
// concurrently; WAL journaling and a per-connection busy timeout keep
// writers from failing under normal contention, so no application-level
// lock is held around catalog I/O.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// Status is the lifecycle state of a catalog record.
type Status string

const (
	// StatusPending marks a file observed but not yet processed.
	StatusPending Status = "PENDING"
	// StatusProcessing marks a file claimed by the indexer.
	StatusProcessing Status = "PROCESSING"
	// StatusIndexed marks a successfully processed file.
	StatusIndexed Status = "INDEXED"
	// StatusFailed marks a file whose last processing attempt failed.
	StatusFailed Status = "FAILED"
)

// Valid reports whether st is one of the four known lifecycle states.
func (st Status) Valid() bool {
	switch st {
	case StatusPending, StatusProcessing, StatusIndexed, StatusFailed:
		return true
	}
	return false
}

// IndexStatus is one catalog record. Path is the primary key and is
// always relative to the upload root.
type IndexStatus struct {
	Path         string     `json:"path"`
	FileHash     string     `json:"file_hash"`
	Status       Status     `json:"status"`
	IndexedAt    *time.Time `json:"indexed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Size         int64      `json:"size"`
	MTime        time.Time  `json:"mtime"`
}

// Store is the SQLite-backed index-status catalog.
type Store struct {
	db   *sql.DB
	path string

	mu     sync.Mutex
	closed bool
}

// Timestamps are stored as integer Unix nanoseconds so ordering and
// NULL handling stay trivial across driver versions.
const schema = `
CREATE TABLE IF NOT EXISTS index_status (
	path          TEXT PRIMARY KEY,
	file_hash     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL CHECK (status IN ('PENDING','PROCESSING','INDEXED','FAILED')),
	indexed_at    TIMESTAMP,
	error_message TEXT,
	size          INTEGER NOT NULL DEFAULT 0,
	mtime         TIMESTAMP NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_index_status_status ON index_status(status);
CREATE INDEX IF NOT EXISTS idx_index_status_mtime ON index_status(mtime DESC);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

const selectCols = "path, file_hash, status, indexed_at, error_message, size, mtime"

// New opens (or creates) the catalog database at path. A corrupt
// database is cleared and recreated; records are rebuilt by the next
// scan-and-reconcile pass, so losing them costs a reindex, not data.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, ragerrors.ValidationError("catalog path is empty", nil)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ragerrors.CatalogError(fmt.Sprintf("create catalog directory %s", dir), err)
	}

	if validErr := VerifyIntegrity(path); validErr != nil {
		slog.Warn("catalog_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))

		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return nil, ragerrors.New(ragerrors.ErrCodeCatalogCorrupt,
				fmt.Sprintf("catalog corrupted at %s and cannot be removed: %v (original error: %v)", path, removeErr, validErr),
				validErr)
		}
		// WAL and SHM sidecars must go with the main file.
		_ = os.Remove(path + "-wal")
		_ = os.Remove(path + "-shm")

		slog.Info("catalog_cleared",
			slog.String("path", path),
			slog.String("reason", "corruption detected, records rebuild on next scan"))
	}

	// The _pragma form is applied by modernc.org/sqlite to every pooled
	// connection. busy_timeout comes first so the journal_mode switch
	// itself cannot fail on a briefly locked database.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ragerrors.CatalogError(fmt.Sprintf("open catalog %s", path), err)
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// VerifyIntegrity runs PRAGMA integrity_check against an existing
// database file on a read-only connection. A missing file is fine.
func VerifyIntegrity(path string) error {
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
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check returned %q", result)
	}
	return nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return ragerrors.CatalogError("initialize catalog schema", err)
	}
	return nil
}

// Path returns the filesystem location of the catalog database.
func (s *Store) Path() string {
	return s.path
}

// Upsert replaces the full record for rec.Path, inserting it if absent.
// The record is normalized first so stored rows always satisfy the
// lifecycle rules: PENDING and PROCESSING carry no indexed_at, INDEXED
// carries no error, FAILED carries no indexed_at.
func (s *Store) Upsert(ctx context.Context, rec IndexStatus) error {
	rec, err := normalizeRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO index_status (path, file_hash, status, indexed_at, error_message, size, mtime)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			file_hash     = excluded.file_hash,
			status        = excluded.status,
			indexed_at    = excluded.indexed_at,
			error_message = excluded.error_message,
			size          = excluded.size,
			mtime         = excluded.mtime`,
		rec.Path, rec.FileHash, string(rec.Status),
		nanosOrNull(rec.IndexedAt), textOrNull(rec.ErrorMessage),
		rec.Size, rec.MTime.UnixNano())
	if err != nil {
		return ragerrors.CatalogError(fmt.Sprintf("upsert %s", rec.Path), err)
	}
	return nil
}

// UpdateField sets a single column on an existing record. Only status,
// error_message, indexed_at, and file_hash may be updated this way.
// Status updates keep the lifecycle rules intact: moving to PENDING
// clears indexed_at and error_message, moving to PROCESSING clears
// indexed_at, and moving to INDEXED stamps indexed_at when it is not
// already set. Recording a failure should go through Upsert so the
// error message lands in the same write.
func (s *Store) UpdateField(ctx context.Context, path, field string, value any) error {
	var (
		set  = field + " = ?"
		args []any
	)

	switch field {
	case "status":
		st, err := asStatus(value)
		if err != nil {
			return err
		}
		switch st {
		case StatusPending:
			set = "status = ?, indexed_at = NULL, error_message = NULL"
		case StatusProcessing, StatusFailed:
			set = "status = ?, indexed_at = NULL"
		case StatusIndexed:
			set = "status = ?, indexed_at = COALESCE(indexed_at, ?)"
			args = append(args, string(st), time.Now().UTC().UnixNano())
		}
		if len(args) == 0 {
			args = append(args, string(st))
		}

	case "file_hash":
		str, ok := value.(string)
		if !ok {
			return ragerrors.ValidationError(fmt.Sprintf("file_hash must be a string, got %T", value), nil)
		}
		args = append(args, str)

	case "error_message":
		switch v := value.(type) {
		case nil:
			args = append(args, nil)
		case string:
			args = append(args, textOrNull(v))
		default:
			return ragerrors.ValidationError(fmt.Sprintf("error_message must be a string, got %T", value), nil)
		}

	case "indexed_at":
		switch v := value.(type) {
		case nil:
			args = append(args, nil)
		case time.Time:
			args = append(args, v.UnixNano())
		case *time.Time:
			args = append(args, nanosOrNull(v))
		default:
			return ragerrors.ValidationError(fmt.Sprintf("indexed_at must be a time, got %T", value), nil)
		}

	default:
		return ragerrors.New(ragerrors.ErrCodeInvalidField,
			fmt.Sprintf("field %q is not updatable", field), nil).
			WithDetail("allowed", "status, error_message, indexed_at, file_hash")
	}

	args = append(args, path)
	res, err := s.db.ExecContext(ctx, "UPDATE index_status SET "+set+" WHERE path = ?", args...)
	if err != nil {
		return ragerrors.CatalogError(fmt.Sprintf("update %s on %s", field, path), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ragerrors.CatalogError(fmt.Sprintf("update %s on %s", field, path), err)
	}
	if n == 0 {
		return ragerrors.New(ragerrors.ErrCodeRecordNotFound,
			fmt.Sprintf("no catalog record for %q", path), nil)
	}
	return nil
}

// Claim atomically moves path from PENDING to PROCESSING and reports
// whether this caller won the row. A false result means the record is
// missing or some other worker already claimed it; either way the
// caller must skip the file.
func (s *Store) Claim(ctx context.Context, path string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE index_status SET status = ?, indexed_at = NULL WHERE path = ? AND status = ?",
		string(StatusProcessing), path, string(StatusPending))
	if err != nil {
		return false, ragerrors.CatalogError(fmt.Sprintf("claim %s", path), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, ragerrors.CatalogError(fmt.Sprintf("claim %s", path), err)
	}
	return n > 0, nil
}

// Get returns the record for path.
func (s *Store) Get(ctx context.Context, path string) (*IndexStatus, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectCols+" FROM index_status WHERE path = ?", path)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ragerrors.New(ragerrors.ErrCodeRecordNotFound,
				fmt.Sprintf("no catalog record for %q", path), err)
		}
		return nil, ragerrors.CatalogError(fmt.Sprintf("get %s", path), err)
	}
	return &rec, nil
}

// List returns every record ordered by mtime descending, newest first.
// Ties fall back to path order so the listing is stable.
func (s *Store) List(ctx context.Context) ([]IndexStatus, error) {
	return s.queryRecords(ctx,
		"SELECT "+selectCols+" FROM index_status ORDER BY mtime DESC, path ASC")
}

// ListByStatus returns the records currently in the given state,
// ordered like List.
func (s *Store) ListByStatus(ctx context.Context, st Status) ([]IndexStatus, error) {
	if !st.Valid() {
		return nil, ragerrors.ValidationError(fmt.Sprintf("unknown index status %q", st), nil)
	}
	return s.queryRecords(ctx,
		"SELECT "+selectCols+" FROM index_status WHERE status = ? ORDER BY mtime DESC, path ASC",
		string(st))
}

// CountByStatus returns how many records are in each state. States with
// no records are absent from the map.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM index_status GROUP BY status")
	if err != nil {
		return nil, ragerrors.CatalogError("count records by status", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			st Status
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, ragerrors.CatalogError("count records by status", err)
		}
		counts[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, ragerrors.CatalogError("count records by status", err)
	}
	return counts, nil
}

// Delete removes the record for path. Deleting a missing record is not
// an error so callers can clean up without a prior Get.
func (s *Store) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM index_status WHERE path = ?", path); err != nil {
		return ragerrors.CatalogError(fmt.Sprintf("delete %s", path), err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database. Safe to call more
// than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]IndexStatus, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ragerrors.CatalogError("list catalog records", err)
	}
	defer rows.Close()

	var records []IndexStatus
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, ragerrors.CatalogError("list catalog records", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerrors.CatalogError("list catalog records", err)
	}
	return records, nil
}

func scanRecord(row interface{ Scan(dest ...any) error }) (IndexStatus, error) {
	var (
		rec     IndexStatus
		indexed sql.NullInt64
		errMsg  sql.NullString
		mtime   int64
	)
	if err := row.Scan(&rec.Path, &rec.FileHash, &rec.Status, &indexed, &errMsg, &rec.Size, &mtime); err != nil {
		return IndexStatus{}, err
	}
	if indexed.Valid {
		t := time.Unix(0, indexed.Int64).UTC()
		rec.IndexedAt = &t
	}
	rec.ErrorMessage = errMsg.String
	rec.MTime = time.Unix(0, mtime).UTC()
	return rec, nil
}

func normalizeRecord(rec IndexStatus) (IndexStatus, error) {
	if rec.Path == "" {
		return rec, ragerrors.ValidationError("catalog record path is empty", nil)
	}
	switch rec.Status {
	case StatusPending:
		rec.IndexedAt = nil
		rec.ErrorMessage = ""
	case StatusProcessing:
		rec.IndexedAt = nil
	case StatusIndexed:
		if rec.IndexedAt == nil {
			return rec, ragerrors.ValidationError(
				fmt.Sprintf("indexed_at required for INDEXED record %s", rec.Path), nil)
		}
		rec.ErrorMessage = ""
	case StatusFailed:
		if rec.ErrorMessage == "" {
			return rec, ragerrors.ValidationError(
				fmt.Sprintf("error_message required for FAILED record %s", rec.Path), nil)
		}
		rec.IndexedAt = nil
	default:
		return rec, ragerrors.ValidationError(
			fmt.Sprintf("unknown index status %q", rec.Status), nil)
	}
	return rec, nil
}

func asStatus(value any) (Status, error) {
	var st Status
	switch v := value.(type) {
	case Status:
		st = v
	case string:
		st = Status(v)
	default:
		return "", ragerrors.ValidationError(fmt.Sprintf("status must be a string, got %T", value), nil)
	}
	if !st.Valid() {
		return "", ragerrors.ValidationError(fmt.Sprintf("unknown index status %q", st), nil)
	}
	return st, nil
}

func nanosOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func textOrNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}
