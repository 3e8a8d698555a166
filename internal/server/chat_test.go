package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/ragserver/internal/chat"
	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

func createSession(t *testing.T, ts *testServer, title string) string {
	t.Helper()
	payload := map[string]any{}
	if title != "" {
		payload["title"] = title
	}
	code, m := ts.postJSON(t, "/api/chat/sessions", payload)
	require.Equal(t, http.StatusCreated, code)
	id, ok := m["id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)
	return id
}

// ============================================================
// Session CRUD
// ============================================================

func TestChatSessions_CreateListGetDelete(t *testing.T) {
	ts := newTestServer(t)

	id := createSession(t, ts, "thrust budget review")

	code, m := ts.getJSON(t, "/api/chat/sessions")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), m["total"])
	sessions := m["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, "thrust budget review", sessions[0].(map[string]any)["title"])

	code, m = ts.getJSON(t, "/api/chat/sessions/"+id)
	require.Equal(t, http.StatusOK, code)
	sess := m["session"].(map[string]any)
	assert.Equal(t, id, sess["id"])
	msgs, ok := m["messages"].([]any)
	require.True(t, ok)
	assert.Empty(t, msgs)

	rec := ts.do(http.MethodDelete, "/api/chat/sessions/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeMap(t, rec)
	assert.Equal(t, "deleted", out["status"])
	assert.Equal(t, id, out["session_id"])

	code, m = ts.getJSON(t, "/api/chat/sessions")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), m["total"])
	assert.Empty(t, m["sessions"])
}

func TestChatCreate_EmptyBodyGetsDefaultTitle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/chat/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	m := decodeMap(t, rec)
	assert.Equal(t, chat.DefaultTitle, m["title"])
}

func TestChatGet_MissingSessionIs404(t *testing.T) {
	ts := newTestServer(t)

	code, m := ts.getJSON(t, "/api/chat/sessions/does-not-exist")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, ragerrors.ErrCodeRecordNotFound, m["code"])
}

func TestChatDelete_MissingSessionIs404(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodDelete, "/api/chat/sessions/does-not-exist", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================================
// Messages
// ============================================================

func TestChatMessage_StoresBothTurns(t *testing.T) {
	ts := newTestServer(t)
	ts.facade.answer = "42 newtons"
	id := createSession(t, ts, "engine chat")

	code, m := ts.postJSON(t, "/api/chat/sessions/"+id+"/messages", map[string]any{
		"content": "what is the thrust?",
		"mode":    "local",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, m["session_id"])
	assert.Equal(t, "42 newtons", m["response"])
	assert.Equal(t, "local", m["mode"])

	turns := m["messages"].([]any)
	require.Len(t, turns, 2)
	assert.Equal(t, chat.RoleUser, turns[0].(map[string]any)["role"])
	assert.Equal(t, "what is the thrust?", turns[0].(map[string]any)["content"])
	assert.Equal(t, chat.RoleAssistant, turns[1].(map[string]any)["role"])
	assert.Equal(t, "42 newtons", turns[1].(map[string]any)["content"])

	// The store has both turns.
	code, m = ts.getJSON(t, "/api/chat/sessions/"+id)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, m["messages"].([]any), 2)

	// First turn of the thread carries no history.
	q := ts.facade.lastQuery(t)
	assert.Equal(t, "what is the thrust?", q.query)
	assert.Equal(t, "local", q.mode)
	assert.Empty(t, q.opts.History)
}

func TestChatMessage_PriorTurnsBecomeHistory(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts, "")

	code, _ := ts.postJSON(t, "/api/chat/sessions/"+id+"/messages",
		map[string]any{"content": "first question"})
	require.Equal(t, http.StatusOK, code)

	code, _ = ts.postJSON(t, "/api/chat/sessions/"+id+"/messages",
		map[string]any{"content": "second question"})
	require.Equal(t, http.StatusOK, code)

	q := ts.facade.lastQuery(t)
	require.Len(t, q.opts.History, 2)
	assert.Equal(t, chat.RoleUser, q.opts.History[0].Role)
	assert.Equal(t, "first question", q.opts.History[0].Content)
	assert.Equal(t, chat.RoleAssistant, q.opts.History[1].Role)
	assert.Equal(t, "the answer", q.opts.History[1].Content)
}

func TestChatMessage_FirstUserTurnNamesDefaultSession(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts, "")

	code, _ := ts.postJSON(t, "/api/chat/sessions/"+id+"/messages",
		map[string]any{"content": "compare the two turbine designs"})
	require.Equal(t, http.StatusOK, code)

	code, m := ts.getJSON(t, "/api/chat/sessions/"+id)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "compare the two turbine designs",
		m["session"].(map[string]any)["title"])
}

func TestChatMessage_EmptyContentRejected(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts, "t")

	code, m := ts.postJSON(t, "/api/chat/sessions/"+id+"/messages",
		map[string]any{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ragerrors.ErrCodeInvalidInput, m["code"])
	assert.Empty(t, ts.facade.queries)
}

func TestChatMessage_UnknownModeRejected(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts, "t")

	code, _ := ts.postJSON(t, "/api/chat/sessions/"+id+"/messages",
		map[string]any{"content": "q", "mode": "psychic"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestChatMessage_MissingSessionIs404(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.postJSON(t, "/api/chat/sessions/ghost/messages",
		map[string]any{"content": "q"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Empty(t, ts.facade.queries)
}

func TestChatMessage_QueryFailureStoresNothing(t *testing.T) {
	ts := newTestServer(t)
	ts.facade.queryErr = ragerrors.New(ragerrors.ErrCodeBadUpstream, "provider down", nil)
	id := createSession(t, ts, "t")

	code, _ := ts.postJSON(t, "/api/chat/sessions/"+id+"/messages",
		map[string]any{"content": "q"})
	assert.Equal(t, http.StatusInternalServerError, code)

	code, m := ts.getJSON(t, "/api/chat/sessions/"+id)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, m["messages"])
}

// ============================================================
// Disabled store
// ============================================================

func TestChat_DisabledWithoutStore(t *testing.T) {
	ts := newTestServer(t)
	ts.srv.chat = nil

	code, m := ts.getJSON(t, "/api/chat/sessions")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, ragerrors.ErrCodeFeatureDisabled, m["code"])

	code, _ = ts.postJSON(t, "/api/chat/sessions", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = ts.postJSON(t, "/api/chat/sessions/x/messages", map[string]any{"content": "q"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
