package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/ragserver/pkg/version"
)

// ============================================================
// Operational endpoints
// ============================================================

func TestHealth_ReportsVersion(t *testing.T) {
	ts := newTestServer(t)

	code, m := ts.getJSON(t, "/health")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", m["status"])
	assert.Equal(t, version.Short(), m["version"])
}

func TestReady_GatesOnCatalogOnly(t *testing.T) {
	ts := newTestServer(t)

	// An unbuilt engine is the normal lazy-init state, not unreadiness.
	code, m := ts.getJSON(t, "/ready")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, m["ready"])
	assert.Equal(t, "ok", m["catalog"])
	assert.Equal(t, "uninitialized", m["retriever"])

	ts.facade.ready = true
	code, m = ts.getJSON(t, "/ready")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", m["retriever"])
}

func TestReady_ClosedCatalogIs503(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.cat.Close())

	code, m := ts.getJSON(t, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, m["ready"])
	assert.NotEqual(t, "ok", m["catalog"])
}

func TestMetrics_ExposesNamespacedSeries(t *testing.T) {
	ts := newTestServer(t)

	// Prime the request counter.
	code, _ := ts.getJSON(t, "/api/documents/list")
	require.Equal(t, http.StatusOK, code)

	rec := ts.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "ragserver_http_requests_total")
	assert.Contains(t, body, "ragserver_http_request_seconds")
}

func TestConfig_RedactsAPIKeys(t *testing.T) {
	ts := newTestServer(t)
	ts.cfg.Providers.LLM.APIKey = "sk-super-secret"

	rec := ts.do(http.MethodGet, "/api/config", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-super-secret")

	m := decodeMap(t, rec)
	llm := m["providers"].(map[string]any)["llm"].(map[string]any)
	assert.Equal(t, "[redacted]", llm["api_key"])

	// Unset keys stay empty rather than pretending to be redacted.
	embedding := m["providers"].(map[string]any)["embedding"].(map[string]any)
	assert.Equal(t, "", embedding["api_key"])
}

func TestUnknownRouteIs404(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================================
// Lifecycle
// ============================================================

func TestRun_DrainsOnContextCancel(t *testing.T) {
	ts := newTestServer(t)
	ts.cfg.Server.Host = "127.0.0.1"
	ts.cfg.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down after cancel")
	}
}
