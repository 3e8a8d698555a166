package integration

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guideText = `# Batch Scheduler

The batch scheduler drains pending embedding requests during shutdown so
no caller is left waiting. Requests group by model and parameters, and a
full batch dispatches immediately.

## Flush behavior

A partial batch dispatches when the oldest request has waited long enough.
`

func TestStack_HealthAndReady(t *testing.T) {
	// Given: a wired stack
	s := newStack(t, nil)

	// When/Then: health reports healthy
	code, body := s.get(t, "/health")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", decode(t, body)["status"])

	// And: ready before any engine construction
	code, body = s.get(t, "/ready")
	require.Equal(t, http.StatusOK, code)
	m := decode(t, body)
	assert.Equal(t, true, m["ready"])
	assert.Equal(t, "uninitialized", m["retriever"])
}

func TestStack_UploadProcessQuery(t *testing.T) {
	// Given: a wired stack
	s := newStack(t, nil)

	// When: uploading a document
	code, body := s.upload(t, "/api/documents/upload", "guide.md", guideText)
	require.Equal(t, http.StatusOK, code, "upload failed: %s", body)
	assert.Equal(t, "guide.md", decode(t, body)["filename"])

	// And: processing it
	code, body = s.postJSON(t, "/api/documents/process", map[string]any{
		"file_path": "guide.md",
	})
	require.Equal(t, http.StatusOK, code, "process failed: %s", body)
	assert.Equal(t, "success", decode(t, body)["status"])

	// Then: the catalog records it as indexed
	code, body = s.get(t, "/api/documents/index-status")
	require.Equal(t, http.StatusOK, code)
	statusBody := string(body)
	assert.Contains(t, statusBody, "guide.md")
	assert.Contains(t, statusBody, "INDEXED")

	// And: a query over the indexed content finds it
	code, body = s.postJSON(t, "/api/query/", map[string]any{
		"query": "how does the batch scheduler drain pending embedding requests",
		"mode":  "hybrid",
	})
	require.Equal(t, http.StatusOK, code, "query failed: %s", body)
	m := decode(t, body)
	assert.Equal(t, "hybrid", m["mode"])
	// No completion provider is bound, so the response is the retrieved
	// context itself.
	assert.Contains(t, m["response"], "scheduler")
}

func TestStack_UploadAndProcessSingleCall(t *testing.T) {
	// Given: a wired stack
	s := newStack(t, nil)

	// When: the combined upload-and-process endpoint runs
	code, body := s.upload(t, "/api/documents/upload-and-process", "notes.md",
		"# Notes\n\nThe watcher debounces filesystem events before triggering.\n")
	require.Equal(t, http.StatusOK, code, "upload-and-process failed: %s", body)
	assert.Equal(t, "success", decode(t, body)["status"])

	// Then: the document lists and queries resolve against it
	code, body = s.get(t, "/api/documents/list")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "notes.md")

	code, body = s.postJSON(t, "/api/query/", map[string]any{
		"query": "what does the watcher do with filesystem events",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, decode(t, body)["response"], "debounces")
}

func TestStack_QueryWithNothingIndexed(t *testing.T) {
	// Given: a stack with no documents
	s := newStack(t, nil)

	// When: querying anyway
	code, body := s.postJSON(t, "/api/query/", map[string]any{
		"query": "anything at all",
	})

	// Then: the call succeeds with the no-context answer
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, decode(t, body)["response"], "No relevant context")
}

func TestStack_TriggerIndexProcessesDroppedFiles(t *testing.T) {
	// Given: a stack with a running indexer loop and files dropped
	// straight into the upload directory
	s := newStack(t, nil)
	s.startIndexer(t)

	for i := 0; i < 3; i++ {
		name := filepath.Join(s.cfg.Paths.UploadDir, fmt.Sprintf("drop_%d.md", i))
		content := fmt.Sprintf("# Drop %d\n\nThe catalog reconciles dropped uploads automatically.\n", i)
		require.NoError(t, os.WriteFile(name, []byte(content), 0o644))
	}

	// When: triggering an index pass over HTTP
	code, body := s.postJSON(t, "/api/documents/trigger-index", nil)
	require.Equal(t, http.StatusOK, code, "trigger failed: %s", body)
	m := decode(t, body)
	assert.Equal(t, float64(3), m["files_scanned"])

	// Then: the loop drains the pending files
	require.Eventually(t, func() bool {
		_, body := s.get(t, "/api/documents/index-status")
		counts := map[string]int{}
		for _, rec := range decode(t, body)["documents"].([]any) {
			counts[rec.(map[string]any)["status"].(string)]++
		}
		return counts["INDEXED"] == 3
	}, 10*time.Second, 100*time.Millisecond, "uploads never reached INDEXED")

	// And: their content is retrievable
	code, body = s.postJSON(t, "/api/query/", map[string]any{
		"query": "what reconciles dropped uploads",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, decode(t, body)["response"], "reconciles")
}

func TestStack_ChatSessionAnswersFromDocuments(t *testing.T) {
	// Given: a stack with one processed document
	s := newStack(t, nil)
	code, body := s.upload(t, "/api/documents/upload-and-process", "guide.md", guideText)
	require.Equal(t, http.StatusOK, code, "upload-and-process failed: %s", body)

	// And: a chat session
	code, body = s.postJSON(t, "/api/chat/sessions", map[string]any{"title": "ops"})
	require.Equal(t, http.StatusCreated, code)
	id := decode(t, body)["id"].(string)

	// When: asking a question in the session
	code, body = s.postJSON(t, "/api/chat/sessions/"+id+"/messages", map[string]any{
		"content": "when does a partial batch dispatch",
	})

	// Then: the answer draws on the document and both turns persist
	require.Equal(t, http.StatusOK, code, "chat message failed: %s", body)
	code, body = s.get(t, "/api/chat/sessions/"+id)
	require.Equal(t, http.StatusOK, code)
	m := decode(t, body)
	msgs := m["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", msgs[1].(map[string]any)["role"])
}

func TestStack_DeleteMovesDocumentToTrash(t *testing.T) {
	// Given: an uploaded document
	s := newStack(t, nil)
	code, body := s.upload(t, "/api/documents/upload", "old.md", "# Old\n\nStale content.\n")
	require.Equal(t, http.StatusOK, code, "upload failed: %s", body)

	// When: deleting it
	code, body = s.delete(t, "/api/documents/delete/old.md")
	require.Equal(t, http.StatusOK, code, "delete failed: %s", body)
	assert.Equal(t, "deleted", decode(t, body)["status"])

	// Then: it leaves the listing but survives in the trash
	code, body = s.get(t, "/api/documents/list")
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(body), "old.md")

	entries, err := os.ReadDir(filepath.Join(s.cfg.Paths.UploadDir, ".trash"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "old.md")
}

func TestStack_MetricsExposed(t *testing.T) {
	// Given: a stack that served at least one request
	s := newStack(t, nil)
	s.get(t, "/health")

	// When/Then: the Prometheus endpoint reports the HTTP series
	code, body := s.get(t, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "ragserver_http_requests_total")
}
