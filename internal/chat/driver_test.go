//go:build cgo

package chat

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The store promises driver-agnostic SQL. Run the full write path on the
// cgo driver to keep that promise honest.
func TestStore_InjectedAlternateDriver(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)

	s, err := NewWithDB(db)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "cross-driver")
	require.NoError(t, err)

	_, err = s.AddMessage(ctx, sess.ID, RoleUser, "does this work on cgo sqlite?")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, sess.ID, RoleAssistant, "it does.")
	require.NoError(t, err)

	msgs, err := s.Messages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].MessageCount)

	require.NoError(t, s.DeleteSession(ctx, sess.ID))
}
