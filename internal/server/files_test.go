package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// writeWorking drops a file under the working directory, creating
// parents as needed, and returns its absolute path.
func writeWorking(t *testing.T, ts *testServer, rel string, content []byte) string {
	t.Helper()
	abs := filepath.Join(ts.cfg.Paths.WorkingDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, content, 0o644))
	return abs
}

func (ts *testServer) getFile(t *testing.T, path string) *http.Response {
	t.Helper()
	rec := ts.do(http.MethodGet, "/api/files?path="+path, nil, nil)
	return rec.Result()
}

func bodyOf(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

// ============================================================
// Validation
// ============================================================

func TestFiles_MissingPathParam(t *testing.T) {
	ts := newTestServer(t)

	code, m := ts.getJSON(t, "/api/files")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ragerrors.ErrCodeInvalidInput, m["code"])
}

func TestFiles_NonImageExtensionRejected(t *testing.T) {
	ts := newTestServer(t)
	writeWorking(t, ts, "report.pdf", []byte("%PDF"))

	code, m := ts.getJSON(t, "/api/files?path=report.pdf")
	assert.Equal(t, http.StatusUnsupportedMediaType, code)
	assert.Equal(t, ragerrors.ErrCodeUnsupportedMedia, m["code"])
}

func TestFiles_SVGStaysOut(t *testing.T) {
	ts := newTestServer(t)
	writeWorking(t, ts, "vector.svg", []byte("<svg/>"))

	code, _ := ts.getJSON(t, "/api/files?path=vector.svg")
	assert.Equal(t, http.StatusUnsupportedMediaType, code)
}

// ============================================================
// Resolution
// ============================================================

func TestFiles_RelativeProbesWorkingThenUploads(t *testing.T) {
	ts := newTestServer(t)
	writeWorking(t, ts, "images/chart.png", []byte("WORKING"))
	writeUpload(t, ts, "images/chart.png", []byte("UPLOADS"))

	resp := ts.getFile(t, "images/chart.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "WORKING", bodyOf(t, resp))
}

func TestFiles_FallsBackToUploadDir(t *testing.T) {
	ts := newTestServer(t)
	writeUpload(t, ts, "photo.jpg", []byte("JPEGDATA"))

	resp := ts.getFile(t, "photo.jpg")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "JPEGDATA", bodyOf(t, resp))
}

func TestFiles_WebAbsolutePathMapsOntoRootByName(t *testing.T) {
	ts := newTestServer(t)
	writeWorking(t, ts, "pics/a.png", []byte("AAA"))
	writeUpload(t, ts, "b.jpg", []byte("BBB"))

	// The working dir is <tmp>/work, the upload dir <tmp>/uploads; a
	// web-absolute path selects the root whose base name matches its
	// first segment.
	resp := ts.getFile(t, "/work/pics/a.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "AAA", bodyOf(t, resp))

	resp = ts.getFile(t, "/uploads/b.jpg")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "BBB", bodyOf(t, resp))
}

func TestFiles_UnknownWebRootIs404(t *testing.T) {
	ts := newTestServer(t)

	code, m := ts.getJSON(t, "/api/files?path=/elsewhere/a.png")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, ragerrors.ErrCodeFileNotFound, m["code"])
}

func TestFiles_EscapeAttemptsAre404(t *testing.T) {
	ts := newTestServer(t)

	// A real file one level above both roots.
	secret := filepath.Join(filepath.Dir(ts.cfg.Paths.WorkingDir), "secret.png")
	require.NoError(t, os.WriteFile(secret, []byte("TOPSECRET"), 0o644))

	for _, p := range []string{"../secret.png", "/work/../secret.png", "/work/../../secret.png"} {
		code, m := ts.getJSON(t, "/api/files?path="+p)
		assert.Equal(t, http.StatusNotFound, code, "path %s", p)
		assert.Equal(t, ragerrors.ErrCodeFileNotFound, m["code"], "path %s", p)
	}
}

func TestFiles_BareImageNameSearchesParsedOutput(t *testing.T) {
	ts := newTestServer(t)
	writeWorking(t, ts, "parsed_output/docA/images/fig.png", []byte("FIRST"))
	writeWorking(t, ts, "parsed_output/docB/images/fig.png", []byte("SECOND"))

	resp := ts.getFile(t, "images/fig.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FIRST", bodyOf(t, resp))
}

func TestFiles_ParsedOutputSearchIgnoresNonImageDirs(t *testing.T) {
	ts := newTestServer(t)
	writeWorking(t, ts, "parsed_output/docA/tables/fig.png", []byte("TABLE"))

	code, _ := ts.getJSON(t, "/api/files?path=images/fig.png")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFiles_MissingFileIs404(t *testing.T) {
	ts := newTestServer(t)

	code, m := ts.getJSON(t, "/api/files?path=nope.png")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, ragerrors.ErrCodeFileNotFound, m["code"])
}

// ============================================================
// Serving and caching
// ============================================================

func TestFiles_SetsCacheControl(t *testing.T) {
	ts := newTestServer(t)
	writeWorking(t, ts, "logo.png", []byte("PNG"))

	resp := ts.getFile(t, "logo.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "public, max-age=3600", resp.Header.Get("Cache-Control"))
	resp.Body.Close()
}

func TestFiles_StaleCacheEntryIsEvicted(t *testing.T) {
	ts := newTestServer(t)
	abs := writeWorking(t, ts, "temp.png", []byte("V1"))

	resp := ts.getFile(t, "temp.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "V1", bodyOf(t, resp))

	// Drop the file out from under the cached resolution.
	require.NoError(t, os.Remove(abs))
	code, _ := ts.getJSON(t, "/api/files?path=temp.png")
	assert.Equal(t, http.StatusNotFound, code)

	// A recreated file resolves fresh.
	writeWorking(t, ts, "temp.png", []byte("V2"))
	resp = ts.getFile(t, "temp.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "V2", bodyOf(t, resp))
}

func TestFiles_CacheDoesNotOutliveRootChange(t *testing.T) {
	ts := newTestServer(t)
	writeWorking(t, ts, "shared.png", []byte("OLD ROOT"))

	resp := ts.getFile(t, "shared.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OLD ROOT", bodyOf(t, resp))

	// A reload points the working dir somewhere else holding the same
	// relative path. The cached resolution against the old root must
	// not be served.
	newRoot := filepath.Join(t.TempDir(), "work")
	require.NoError(t, os.MkdirAll(newRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(newRoot, "shared.png"), []byte("NEW ROOT"), 0o644))
	ts.cfg.Paths.WorkingDir = newRoot

	resp = ts.getFile(t, "shared.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "NEW ROOT", bodyOf(t, resp))
}
