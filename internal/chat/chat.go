// Package chat persists conversation sessions and their messages.
//
// The store is a two-table SQLite database next to the index-status
// catalog. Sessions order by recency; messages order by insertion. The
// SQL stays driver-agnostic (no driver-specific pragmas in statements,
// explicit transactional cascade instead of foreign-key actions) so the
// store runs on any database/sql SQLite driver the caller hands in.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultTitle is given to sessions created without one. The first user
// message replaces it.
const DefaultTitle = "New chat"

// titleExcerptLen caps auto-derived session titles.
const titleExcerptLen = 48

// Session is one conversation thread.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Message is one turn inside a session.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the SQLite-backed chat history.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool
}

const schema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL CHECK (role IN ('user','assistant','system')),
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, id);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at DESC);
`

// Open opens (or creates) the chat database at path using the bundled
// driver, with the same pragma discipline as the catalog.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, ragerrors.ValidationError("chat database path is empty", nil)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ragerrors.CatalogError(fmt.Sprintf("create chat directory %s", dir), err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ragerrors.CatalogError(fmt.Sprintf("open chat database %s", path), err)
	}

	s, err := NewWithDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB initializes the schema on an injected connection. The store
// takes ownership; Close closes it.
func NewWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, ragerrors.CatalogError("initialize chat schema", err)
	}
	return &Store{db: db}, nil
}

// CreateSession starts a new conversation. An empty title takes
// DefaultTitle until the first user message names the session.
func (s *Store) CreateSession(ctx context.Context, title string) (*Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chat_sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
		sess.ID, sess.Title, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, ragerrors.CatalogError("create chat session", err)
	}
	return sess, nil
}

// GetSession returns one session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at,
		       (SELECT COUNT(*) FROM chat_messages m WHERE m.session_id = chat_sessions.id)
		FROM chat_sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ragerrors.New(ragerrors.ErrCodeRecordNotFound,
				fmt.Sprintf("no chat session %q", id), err)
		}
		return nil, ragerrors.CatalogError(fmt.Sprintf("get chat session %s", id), err)
	}
	return &sess, nil
}

// ListSessions returns every session, most recently touched first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at,
		       (SELECT COUNT(*) FROM chat_messages m WHERE m.session_id = chat_sessions.id)
		FROM chat_sessions ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, ragerrors.CatalogError("list chat sessions", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, ragerrors.CatalogError("list chat sessions", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerrors.CatalogError("list chat sessions", err)
	}
	return sessions, nil
}

// DeleteSession removes a session and its messages in one transaction.
// Deleting an unknown session reports RecordNotFound.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerrors.CatalogError(fmt.Sprintf("delete chat session %s", id), err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_messages WHERE session_id = ?", id); err != nil {
		return ragerrors.CatalogError(fmt.Sprintf("delete chat session %s", id), err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM chat_sessions WHERE id = ?", id)
	if err != nil {
		return ragerrors.CatalogError(fmt.Sprintf("delete chat session %s", id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ragerrors.CatalogError(fmt.Sprintf("delete chat session %s", id), err)
	}
	if n == 0 {
		return ragerrors.New(ragerrors.ErrCodeRecordNotFound,
			fmt.Sprintf("no chat session %q", id), nil)
	}
	if err := tx.Commit(); err != nil {
		return ragerrors.CatalogError(fmt.Sprintf("delete chat session %s", id), err)
	}
	return nil
}

// AddMessage appends one turn and bumps the session's recency. The first
// user message of a default-titled session also names the session after
// its content.
func (s *Store) AddMessage(ctx context.Context, sessionID, role, content string) (*Message, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return nil, ragerrors.ValidationError(fmt.Sprintf("unknown message role %q", role), nil)
	}
	if strings.TrimSpace(content) == "" {
		return nil, ragerrors.ValidationError("message content is empty", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ragerrors.CatalogError("add chat message", err)
	}
	defer tx.Rollback()

	var (
		title string
		count int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT title, (SELECT COUNT(*) FROM chat_messages m WHERE m.session_id = chat_sessions.id)
		FROM chat_sessions WHERE id = ?`, sessionID).Scan(&title, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ragerrors.New(ragerrors.ErrCodeRecordNotFound,
			fmt.Sprintf("no chat session %q", sessionID), err)
	}
	if err != nil {
		return nil, ragerrors.CatalogError("add chat message", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO chat_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)",
		sessionID, role, content, now.UnixNano())
	if err != nil {
		return nil, ragerrors.CatalogError("add chat message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, ragerrors.CatalogError("add chat message", err)
	}

	if count == 0 && role == RoleUser && title == DefaultTitle {
		if _, err := tx.ExecContext(ctx,
			"UPDATE chat_sessions SET title = ?, updated_at = ? WHERE id = ?",
			titleExcerpt(content), now.UnixNano(), sessionID); err != nil {
			return nil, ragerrors.CatalogError("add chat message", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			"UPDATE chat_sessions SET updated_at = ? WHERE id = ?",
			now.UnixNano(), sessionID); err != nil {
			return nil, ragerrors.CatalogError("add chat message", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, ragerrors.CatalogError("add chat message", err)
	}
	return &Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}, nil
}

// Messages returns a session's turns oldest first.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, role, content, created_at FROM chat_messages WHERE session_id = ? ORDER BY id ASC",
		sessionID)
	if err != nil {
		return nil, ragerrors.CatalogError(fmt.Sprintf("list messages of %s", sessionID), err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m  Message
			ts int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &ts); err != nil {
			return nil, ragerrors.CatalogError(fmt.Sprintf("list messages of %s", sessionID), err)
		}
		m.CreatedAt = time.Unix(0, ts).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerrors.CatalogError(fmt.Sprintf("list messages of %s", sessionID), err)
	}
	return msgs, nil
}

// Close checkpoints and closes the database. Safe to call more than once.
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

func scanSession(row interface{ Scan(dest ...any) error }) (Session, error) {
	var (
		sess             Session
		created, updated int64
	)
	if err := row.Scan(&sess.ID, &sess.Title, &created, &updated, &sess.MessageCount); err != nil {
		return Session{}, err
	}
	sess.CreatedAt = time.Unix(0, created).UTC()
	sess.UpdatedAt = time.Unix(0, updated).UTC()
	return sess, nil
}

// titleExcerpt trims a message down to a session title.
func titleExcerpt(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	runes := []rune(title)
	if len(runes) <= titleExcerptLen {
		return title
	}
	return strings.TrimSpace(string(runes[:titleExcerptLen])) + "…"
}
