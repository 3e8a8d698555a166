package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ragforge/ragserver/internal/catalog"
	"github.com/ragforge/ragserver/internal/chat"
	"github.com/ragforge/ragserver/internal/config"
	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/indexer"
	"github.com/ragforge/ragserver/internal/rag"
	"github.com/ragforge/ragserver/internal/retriever"
)

// fakeFacade scripts the RAG service behind the handlers. Queries return
// answer unless queryErr is set; ProcessDocument returns processResult
// when set and a success result otherwise; Retriever hands out eng.
type fakeFacade struct {
	mu sync.Mutex

	answer   string
	queryErr error

	processResult *rag.ProcessResult

	eng        *fakeEngine
	retrErr    error
	ready      bool
	workingDir string

	queries   []recordedQuery
	processes []recordedProcess
}

type recordedQuery struct {
	query string
	mode  string
	opts  rag.QueryOptions
	items []retriever.MultimodalItem
}

type recordedProcess struct {
	path        string
	outputDir   string
	parseMethod string
}

func (f *fakeFacade) ProcessDocument(_ context.Context, path, outputDir, parseMethod string) rag.ProcessResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processes = append(f.processes, recordedProcess{path, outputDir, parseMethod})
	if f.processResult != nil {
		return *f.processResult
	}
	return rag.ProcessResult{Status: rag.StatusSuccess, FilePath: path}
}

func (f *fakeFacade) Query(_ context.Context, query, mode string, opts rag.QueryOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, recordedQuery{query: query, mode: mode, opts: opts})
	if f.queryErr != nil {
		return "", f.queryErr
	}
	return f.answer, nil
}

func (f *fakeFacade) QueryWithMultimodal(_ context.Context, query string, items []retriever.MultimodalItem, mode string, opts rag.QueryOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, recordedQuery{query: query, mode: mode, opts: opts, items: items})
	if f.queryErr != nil {
		return "", f.queryErr
	}
	return f.answer, nil
}

func (f *fakeFacade) Retriever(context.Context) (retriever.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retrErr != nil {
		return nil, f.retrErr
	}
	if f.eng == nil {
		return nil, ragerrors.New(ragerrors.ErrCodeNotInitialized, "no engine", nil)
	}
	return f.eng, nil
}

func (f *fakeFacade) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeFacade) Status() rag.ServiceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return rag.ServiceStatus{Initialized: f.ready, WorkingDir: f.workingDir}
}

func (f *fakeFacade) lastQuery(t *testing.T) recordedQuery {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.queries, "expected at least one query")
	return f.queries[len(f.queries)-1]
}

// fakeEngine answers KV readouts and processed lookups; everything else
// is inert.
type fakeEngine struct {
	entities  fakeKV
	relations fakeKV
	processed map[string]bool
}

func (e *fakeEngine) Init(context.Context) error { return nil }

func (e *fakeEngine) ProcessDocument(context.Context, retriever.ProcessRequest) error { return nil }

func (e *fakeEngine) Query(context.Context, string, retriever.QueryOptions) (string, error) {
	return "", nil
}

func (e *fakeEngine) QueryMultimodal(context.Context, string, []retriever.MultimodalItem, retriever.QueryOptions) (string, error) {
	return "", nil
}

func (e *fakeEngine) Processed(relPath string) bool { return e.processed[relPath] }

func (e *fakeEngine) EntityKV() retriever.KVReader { return e.entities }

func (e *fakeEngine) RelationKV() retriever.KVReader { return e.relations }

func (e *fakeEngine) Close() error { return nil }

type fakeKV map[string]map[string]any

func (kv fakeKV) List(context.Context) (map[string]map[string]any, error) {
	if kv == nil {
		return map[string]map[string]any{}, nil
	}
	return kv, nil
}

type fakeIndexer struct {
	res indexer.TriggerResult
	err error
}

func (f *fakeIndexer) TriggerIndex(context.Context) (indexer.TriggerResult, error) {
	return f.res, f.err
}

// testServer bundles the wired server with the pieces tests assert on.
type testServer struct {
	srv     *Server
	handler http.Handler
	facade  *fakeFacade
	cat     *catalog.Store
	chat    *chat.Store
	idx     *fakeIndexer
	cfg     *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.NewConfig()
	base := t.TempDir()
	cfg.Paths.WorkingDir = filepath.Join(base, "work")
	cfg.Paths.UploadDir = filepath.Join(base, "uploads")
	require.NoError(t, os.MkdirAll(cfg.Paths.WorkingDir, 0o755))
	require.NoError(t, os.MkdirAll(cfg.Paths.UploadDir, 0o755))

	cat, err := catalog.New(filepath.Join(cfg.Paths.WorkingDir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	store, err := chat.Open(filepath.Join(cfg.Paths.WorkingDir, "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	facade := &fakeFacade{answer: "the answer", workingDir: cfg.Paths.WorkingDir}
	idx := &fakeIndexer{}
	srv := New(cfg, Deps{RAG: facade, Catalog: cat, Indexer: idx, Chat: store}, nil)

	return &testServer{
		srv:     srv,
		handler: srv.Handler(),
		facade:  facade,
		cat:     cat,
		chat:    store,
		idx:     idx,
		cfg:     cfg,
	}
}

func (ts *testServer) do(method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if body != nil && header["Content-Type"] == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) getJSON(t *testing.T, target string) (int, map[string]any) {
	t.Helper()
	rec := ts.do(http.MethodGet, target, nil, nil)
	return rec.Code, decodeMap(t, rec)
}

func (ts *testServer) postJSON(t *testing.T, target string, payload any) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	rec := ts.do(http.MethodPost, target, bytes.NewReader(body), nil)
	return rec.Code, decodeMap(t, rec)
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m),
		"body was not a JSON object: %s", rec.Body.String())
	return m
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list),
		"body was not a JSON array: %s", rec.Body.String())
	return list
}

// multipartBody builds a multipart form with one file field plus extras.
func multipartBody(t *testing.T, filename string, content []byte, extra map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	for k, v := range extra {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

// writeUpload drops a file straight into the upload root.
func writeUpload(t *testing.T, ts *testServer, rel string, content []byte) string {
	t.Helper()
	abs := filepath.Join(ts.cfg.Paths.UploadDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, content, 0o644))
	return abs
}
