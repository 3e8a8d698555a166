package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/retriever"
)

// ============================================================
// Plain query
// ============================================================

func TestQuery_DelegatesToFacade(t *testing.T) {
	ts := newTestServer(t)
	ts.facade.answer = "paris is the capital"

	code, m := ts.postJSON(t, "/api/query/", map[string]any{
		"query":       "capital of france?",
		"mode":        "local",
		"top_k":       5,
		"max_tokens":  256,
		"temperature": 0.2,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "capital of france?", m["query"])
	assert.Equal(t, "paris is the capital", m["response"])
	assert.Equal(t, "local", m["mode"])

	meta, ok := m["metadata"].(map[string]any)
	require.True(t, ok)
	stamp, ok := meta["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, stamp)
	assert.NoError(t, err)

	q := ts.facade.lastQuery(t)
	assert.Equal(t, "local", q.mode)
	assert.Equal(t, 5, q.opts.TopK)
	assert.Equal(t, 256, q.opts.MaxTokens)
	assert.InDelta(t, 0.2, q.opts.Temperature, 1e-9)
	assert.Empty(t, q.opts.History)
}

func TestQuery_BothSlashFormsRoute(t *testing.T) {
	ts := newTestServer(t)

	for _, target := range []string{"/api/query", "/api/query/"} {
		code, _ := ts.postJSON(t, target, map[string]any{"query": "hello"})
		assert.Equal(t, http.StatusOK, code, "target %s", target)
	}
}

func TestQuery_DefaultsToHybridMode(t *testing.T) {
	ts := newTestServer(t)

	code, m := ts.postJSON(t, "/api/query/", map[string]any{"query": "anything"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, retriever.ModeHybrid, m["mode"])
	assert.Equal(t, retriever.ModeHybrid, ts.facade.lastQuery(t).mode)
}

func TestQuery_EmptyQueryRejected(t *testing.T) {
	ts := newTestServer(t)

	code, m := ts.postJSON(t, "/api/query/", map[string]any{"query": "   "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ragerrors.ErrCodeInvalidInput, m["code"])
	assert.Empty(t, ts.facade.queries)
}

func TestQuery_UnknownModeRejected(t *testing.T) {
	ts := newTestServer(t)

	code, m := ts.postJSON(t, "/api/query/", map[string]any{"query": "q", "mode": "psychic"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ragerrors.ErrCodeInvalidInput, m["code"])
}

func TestQuery_MalformedJSONRejected(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/query/", strings.NewReader(`{"query": `), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery_FacadeErrorMapped(t *testing.T) {
	ts := newTestServer(t)
	ts.facade.queryErr = ragerrors.New(ragerrors.ErrCodeBadUpstream,
		"completion provider returned an empty answer", nil)

	code, m := ts.postJSON(t, "/api/query/", map[string]any{"query": "q"})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, ragerrors.ErrCodeBadUpstream, m["code"])
}

// ============================================================
// Multimodal query
// ============================================================

func TestQueryMultimodal_PassesItemsThrough(t *testing.T) {
	ts := newTestServer(t)

	code, m := ts.postJSON(t, "/api/query/multimodal", map[string]any{
		"query": "describe the table",
		"mode":  "hybrid",
		"multimodal_content": []map[string]any{
			{"type": "table", "content": "| a | b |", "caption": "metrics"},
			{"type": "image", "image_path": "/tmp/chart.png"},
		},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "the answer", m["response"])

	q := ts.facade.lastQuery(t)
	require.Len(t, q.items, 2)
	assert.Equal(t, retriever.ItemTable, q.items[0].Type)
	assert.Equal(t, "| a | b |", q.items[0].Content)
	assert.Equal(t, retriever.ItemImage, q.items[1].Type)
	assert.Equal(t, "/tmp/chart.png", q.items[1].ImagePath)
}

func TestQueryMultimodal_FacadeValidationMapped(t *testing.T) {
	ts := newTestServer(t)
	ts.facade.queryErr = ragerrors.New(ragerrors.ErrCodeImageTooLarge,
		"inline image exceeds the 10 MiB limit", nil)

	code, m := ts.postJSON(t, "/api/query/multimodal", map[string]any{
		"query":              "q",
		"multimodal_content": []map[string]any{{"type": "image", "image_data": "xxxx"}},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ragerrors.ErrCodeImageTooLarge, m["code"])
}

// ============================================================
// Conversation query
// ============================================================

func TestQueryConversation_AppendsBothTurns(t *testing.T) {
	ts := newTestServer(t)
	ts.facade.answer = "it rains tomorrow"

	code, m := ts.postJSON(t, "/api/query/conversation", map[string]any{
		"query": "and tomorrow?",
		"history": []map[string]string{
			{"role": "user", "content": "weather today?"},
			{"role": "assistant", "content": "sunny"},
		},
	})
	require.Equal(t, http.StatusOK, code)

	hist, ok := m["history"].([]any)
	require.True(t, ok)
	require.Len(t, hist, 4)

	last := hist[3].(map[string]any)
	assert.Equal(t, "assistant", last["role"])
	assert.Equal(t, "it rains tomorrow", last["content"])
	assert.NotEmpty(t, last["timestamp"])

	penultimate := hist[2].(map[string]any)
	assert.Equal(t, "user", penultimate["role"])
	assert.Equal(t, "and tomorrow?", penultimate["content"])

	// Only the prior turns reach the completion provider; the new user
	// turn rides in as the query itself.
	q := ts.facade.lastQuery(t)
	require.Len(t, q.opts.History, 2)
	assert.Equal(t, "weather today?", q.opts.History[0].Content)
	assert.Equal(t, "sunny", q.opts.History[1].Content)
}

func TestQueryConversation_EmptyHistoryStartsThread(t *testing.T) {
	ts := newTestServer(t)

	code, m := ts.postJSON(t, "/api/query/conversation", map[string]any{"query": "hi"})
	require.Equal(t, http.StatusOK, code)

	hist, ok := m["history"].([]any)
	require.True(t, ok)
	assert.Len(t, hist, 2)
	assert.Empty(t, ts.facade.lastQuery(t).opts.History)
}
