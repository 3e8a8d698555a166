package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/ragserver/internal/catalog"
	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/rag"
)

// fakeFacade records tool delegations and answers from canned state.
type fakeFacade struct {
	answer   string
	queryErr error
	result   rag.ProcessResult
	status   rag.ServiceStatus

	lastQuery   string
	lastMode    string
	lastOpts    rag.QueryOptions
	lastPath    string
	lastParse   string
	lastOutDir  string
	queryCalls  int
	processCall int
}

func (f *fakeFacade) ProcessDocument(_ context.Context, path, outputDir, parseMethod string) rag.ProcessResult {
	f.processCall++
	f.lastPath, f.lastOutDir, f.lastParse = path, outputDir, parseMethod
	return f.result
}

func (f *fakeFacade) Query(_ context.Context, query, mode string, opts rag.QueryOptions) (string, error) {
	f.queryCalls++
	f.lastQuery, f.lastMode, f.lastOpts = query, mode, opts
	if f.queryErr != nil {
		return "", f.queryErr
	}
	return f.answer, nil
}

func (f *fakeFacade) Status() rag.ServiceStatus { return f.status }

// fakeCatalog serves canned records and counts.
type fakeCatalog struct {
	recs     []catalog.IndexStatus
	listErr  error
	counts   map[catalog.Status]int
	countErr error
}

func (f *fakeCatalog) List(context.Context) ([]catalog.IndexStatus, error) {
	return f.recs, f.listErr
}

func (f *fakeCatalog) CountByStatus(context.Context) (map[catalog.Status]int, error) {
	return f.counts, f.countErr
}

func newTestMCP(t *testing.T) (*Server, *fakeFacade, *fakeCatalog) {
	t.Helper()
	facade := &fakeFacade{
		answer: "the answer",
		result: rag.ProcessResult{Status: rag.StatusSuccess, FilePath: "doc.pdf"},
		status: rag.ServiceStatus{Initialized: true, WorkingDir: "/tmp/work"},
	}
	cat := &fakeCatalog{counts: map[catalog.Status]int{}}
	s, err := NewServer(facade, cat, nil)
	require.NoError(t, err)
	return s, facade, cat
}

func invalidParamsCode(t *testing.T, err error) {
	t.Helper()
	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrCodeInvalidParams, me.Code)
}

// ============================================================
// Construction
// ============================================================

func TestNewServer_RequiresCollaborators(t *testing.T) {
	_, err := NewServer(nil, &fakeCatalog{}, nil)
	assert.Error(t, err)

	_, err = NewServer(&fakeFacade{}, nil, nil)
	assert.Error(t, err)
}

// ============================================================
// rag_query
// ============================================================

func TestRagQuery_DelegatesWithDefaults(t *testing.T) {
	s, facade, _ := newTestMCP(t)

	_, out, err := s.ragQuery(context.Background(), nil, queryInput{Query: "what is the thrust?"})
	require.NoError(t, err)

	assert.Equal(t, "what is the thrust?", out.Query)
	assert.Equal(t, "the answer", out.Response)
	assert.Equal(t, "hybrid", out.Mode)
	assert.Equal(t, "hybrid", facade.lastMode)
	assert.Equal(t, 0, facade.lastOpts.TopK)
}

func TestRagQuery_ClampsTopK(t *testing.T) {
	s, facade, _ := newTestMCP(t)

	_, _, err := s.ragQuery(context.Background(), nil, queryInput{Query: "q", TopK: 500})
	require.NoError(t, err)
	assert.Equal(t, maxTopK, facade.lastOpts.TopK)

	_, _, err = s.ragQuery(context.Background(), nil, queryInput{Query: "q", TopK: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, facade.lastOpts.TopK)
}

func TestRagQuery_Validation(t *testing.T) {
	s, facade, _ := newTestMCP(t)

	_, _, err := s.ragQuery(context.Background(), nil, queryInput{Query: "   "})
	invalidParamsCode(t, err)

	_, _, err = s.ragQuery(context.Background(), nil, queryInput{Query: "q", Mode: "psychic"})
	invalidParamsCode(t, err)

	_, _, err = s.ragQuery(context.Background(), nil, queryInput{Query: "q", TopK: -1})
	invalidParamsCode(t, err)

	assert.Zero(t, facade.queryCalls)
}

func TestRagQuery_MapsFacadeErrors(t *testing.T) {
	s, facade, _ := newTestMCP(t)
	facade.queryErr = ragerrors.RemoteError("ollama unreachable", nil)

	_, _, err := s.ragQuery(context.Background(), nil, queryInput{Query: "q"})
	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrCodeUpstreamUnavailable, me.Code)
	assert.Contains(t, me.Message, "ollama unreachable")
}

// ============================================================
// rag_process_document
// ============================================================

func TestRagProcessDocument_Success(t *testing.T) {
	s, facade, _ := newTestMCP(t)
	facade.result = rag.ProcessResult{
		Status:    rag.StatusSuccess,
		FilePath:  "/uploads/notes.pdf",
		OutputDir: "/work/parsed_output/notes",
	}

	_, out, err := s.ragProcessDocument(context.Background(), nil,
		processInput{Path: "notes.pdf", ParseMethod: "auto"})
	require.NoError(t, err)

	assert.Equal(t, rag.StatusSuccess, out.Status)
	assert.Equal(t, "/uploads/notes.pdf", out.FilePath)
	assert.Equal(t, "/work/parsed_output/notes", out.OutputDir)
	assert.Equal(t, "notes.pdf", facade.lastPath)
	assert.Equal(t, "auto", facade.lastParse)
	assert.Empty(t, facade.lastOutDir)
}

func TestRagProcessDocument_FailureIsToolError(t *testing.T) {
	s, facade, _ := newTestMCP(t)
	facade.result = rag.ProcessResult{
		Status:   rag.StatusError,
		FilePath: "bad.pdf",
		Error:    "parser exited with code 2",
	}

	_, _, err := s.ragProcessDocument(context.Background(), nil, processInput{Path: "bad.pdf"})
	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrCodeProcessingFailed, me.Code)
	assert.Equal(t, "parser exited with code 2", me.Message)
}

func TestRagProcessDocument_RequiresPath(t *testing.T) {
	s, facade, _ := newTestMCP(t)

	_, _, err := s.ragProcessDocument(context.Background(), nil, processInput{Path: " "})
	invalidParamsCode(t, err)
	assert.Zero(t, facade.processCall)
}

// ============================================================
// rag_status
// ============================================================

func TestRagStatus_ReportsAllLifecycleStates(t *testing.T) {
	s, facade, cat := newTestMCP(t)
	facade.status = rag.ServiceStatus{
		Initialized: true,
		WorkingDir:  "/data/work",
		Providers: []rag.ProviderInfo{
			{Kind: "llm", Backend: "ollama", Model: "llama3"},
		},
	}
	cat.counts = map[catalog.Status]int{
		catalog.StatusIndexed: 4,
		catalog.StatusFailed:  1,
	}

	_, out, err := s.ragStatus(context.Background(), nil, statusInput{})
	require.NoError(t, err)

	assert.True(t, out.Initialized)
	assert.Equal(t, "/data/work", out.WorkingDir)
	require.Len(t, out.Providers, 1)
	assert.Equal(t, "ollama", out.Providers[0].Backend)

	// Absent states report zero instead of going missing.
	assert.Equal(t, map[string]int{
		"PENDING": 0, "PROCESSING": 0, "INDEXED": 4, "FAILED": 1,
	}, out.Counts)
	assert.Equal(t, 5, out.TotalDocuments)
}

func TestRagStatus_CatalogFailureMapped(t *testing.T) {
	s, _, cat := newTestMCP(t)
	cat.countErr = ragerrors.CatalogError("count records", errors.New("disk gone"))

	_, _, err := s.ragStatus(context.Background(), nil, statusInput{})
	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrCodeCatalogUnavailable, me.Code)
}

// ============================================================
// catalog://index-status resource
// ============================================================

func TestReadIndexStatus_ServesCatalogSnapshot(t *testing.T) {
	s, _, cat := newTestMCP(t)
	now := time.Now().UTC()
	cat.recs = []catalog.IndexStatus{
		{Path: "a.pdf", FileHash: "h1", Status: catalog.StatusIndexed, Size: 10, MTime: now},
		{Path: "b.pdf", FileHash: "h2", Status: catalog.StatusFailed, ErrorMessage: "parse error", Size: 20, MTime: now},
	}

	res, err := s.readIndexStatus(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, indexStatusURI, res.Contents[0].URI)
	assert.Equal(t, "application/json", res.Contents[0].MIMEType)

	var doc indexStatusDocument
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &doc))
	assert.Equal(t, 2, doc.Total)
	require.Len(t, doc.Documents, 2)
	assert.Equal(t, "a.pdf", doc.Documents[0].Path)
	assert.Equal(t, map[string]int{"INDEXED": 1, "FAILED": 1}, doc.Counts)
}

func TestReadIndexStatus_EmptyCatalogIsNotNull(t *testing.T) {
	s, _, _ := newTestMCP(t)

	res, err := s.readIndexStatus(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, res.Contents[0].Text, `"documents": []`)
}

func TestReadIndexStatus_ListFailureMapped(t *testing.T) {
	s, _, cat := newTestMCP(t)
	cat.listErr = ragerrors.CatalogError("list records", errors.New("locked"))

	_, err := s.readIndexStatus(context.Background(), nil)
	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrCodeCatalogUnavailable, me.Code)
}

// ============================================================
// Error mapping
// ============================================================

func TestMapError_Table(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil stays nil", nil, 0},
		{"validation", ragerrors.ValidationError("bad", nil), ErrCodeInvalidParams},
		{"file not found", ragerrors.NotFoundError("gone", nil), ErrCodeFileNotFound},
		{"record not found", ragerrors.New(ragerrors.ErrCodeRecordNotFound, "no row", nil), ErrCodeFileNotFound},
		{"remote", ragerrors.RemoteError("down", nil), ErrCodeUpstreamUnavailable},
		{"encoder", ragerrors.EncoderError("encode", nil), ErrCodeProcessingFailed},
		{"catalog", ragerrors.CatalogError("io", nil), ErrCodeCatalogUnavailable},
		{"internal band", ragerrors.InternalError("boom", nil), ErrCodeInternalError},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeTimeout},
		{"plain", errors.New("whatever"), ErrCodeInternalError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MapError(tc.err)
			if tc.err == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tc.want, got.Code)
		})
	}
}

func TestMapError_SuggestionRidesAlong(t *testing.T) {
	err := ragerrors.ValidationError("unknown mode.", nil).
		WithSuggestion("Use one of naive, local, global, hybrid.")

	got := MapError(err)
	assert.Contains(t, got.Message, "unknown mode.")
	assert.Contains(t, got.Message, "Use one of")
}
