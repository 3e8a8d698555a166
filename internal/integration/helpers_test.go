// Package integration exercises the assembled stack: real catalog, real
// retrieval engine, real background indexer and the full HTTP surface.
// Only the model providers are faked.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ragforge/ragserver/internal/catalog"
	"github.com/ragforge/ragserver/internal/chat"
	"github.com/ragforge/ragserver/internal/config"
	"github.com/ragforge/ragserver/internal/indexer"
	"github.com/ragforge/ragserver/internal/provider"
	"github.com/ragforge/ragserver/internal/rag"
	"github.com/ragforge/ragserver/internal/retriever"
	"github.com/ragforge/ragserver/internal/server"
)

const embedDim = 16

// hashEmbedder maps each token onto one dimension by hash, so texts that
// share words land near each other. Deterministic and model-free.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, texts []string, _ provider.Params) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, embedDim)
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
			if tok == "" {
				continue
			}
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[h.Sum32()%embedDim]++
		}
		out[i] = vec
	}
	return out, nil
}

func (hashEmbedder) Dim() int { return embedDim }

func (hashEmbedder) Shutdown() error { return nil }

// ragProcessor adapts the facade's ProcessResult values to the error
// contract the indexer records, the same way the serve command does.
type ragProcessor struct {
	svc *rag.Service
}

func (p ragProcessor) ProcessDocument(ctx context.Context, absPath string) error {
	res := p.svc.ProcessDocument(ctx, absPath, "", "")
	if res.Status != rag.StatusSuccess {
		return errors.New(res.Error)
	}
	return nil
}

// stack is one fully wired server over temp directories.
type stack struct {
	cfg    *config.Config
	cat    *catalog.Store
	facade *rag.Service
	ix     *indexer.Indexer
	http   *httptest.Server
}

// newStack builds the stack the way the serve command wires it. The
// indexer is constructed but not started; tests that need the loop call
// startIndexer.
func newStack(t *testing.T, mutate func(cfg *config.Config)) *stack {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Paths.WorkingDir = t.TempDir()
	cfg.Paths.UploadDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cat, err := catalog.New(cfg.ResolvedCatalogPath())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	facade := rag.New(cfg, retriever.Providers{Embedder: hashEmbedder{}}, logger)
	t.Cleanup(func() { _ = facade.Shutdown(context.Background()) })

	chatStore, err := chat.Open(cfg.ResolvedChatDBPath())
	require.NoError(t, err)
	t.Cleanup(func() { _ = chatStore.Close() })

	ix := indexer.New(cat, ragProcessor{facade}, indexer.Config{
		UploadDir:        cfg.Paths.UploadDir,
		Interval:         time.Hour, // tests drive iterations themselves
		MaxFilesPerBatch: 10,
		Watch:            cfg.Indexer.Watch,
		WatchDebounce:    50 * time.Millisecond,
	}, logger)

	srv := server.New(cfg, server.Deps{
		RAG:     facade,
		Catalog: cat,
		Indexer: ix,
		Chat:    chatStore,
	}, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &stack{cfg: cfg, cat: cat, facade: facade, ix: ix, http: ts}
}

func (s *stack) startIndexer(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s.ix.Start(ctx)
	t.Cleanup(func() {
		cancel()
		s.ix.Stop()
	})
}

func (s *stack) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(s.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func (s *stack) postJSON(t *testing.T, path string, payload any) (int, []byte) {
	t.Helper()
	buf, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(s.http.URL+path, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func (s *stack) delete(t *testing.T, path string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, s.http.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

// upload sends one file through the multipart endpoint.
func (s *stack) upload(t *testing.T, endpoint, name, content string) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(s.http.URL+endpoint, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

// decode unmarshals into a generic map for loose assertions.
func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}
