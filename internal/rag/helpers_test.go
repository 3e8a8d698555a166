package rag

import (
	"context"
	"sync"
	"testing"

	"github.com/ragforge/ragserver/internal/config"
	"github.com/ragforge/ragserver/internal/retriever"
)

// fakeEngine scripts every engine method and records what the facade sent.
type fakeEngine struct {
	mu sync.Mutex

	initErr   error
	initCalls int
	closeErr  error
	closes    int

	processErr error
	processed  []retriever.ProcessRequest

	answer    string
	queryErr  error
	queries   []string
	lastOpts  retriever.QueryOptions
	lastItems []retriever.MultimodalItem
}

func (f *fakeEngine) Init(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeEngine) ProcessDocument(_ context.Context, req retriever.ProcessRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, req)
	return f.processErr
}

func (f *fakeEngine) Query(_ context.Context, query string, opts retriever.QueryOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.lastOpts = opts
	return f.answer, f.queryErr
}

func (f *fakeEngine) QueryMultimodal(_ context.Context, query string, items []retriever.MultimodalItem, opts retriever.QueryOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.lastItems = items
	f.lastOpts = opts
	return f.answer, f.queryErr
}

func (f *fakeEngine) Processed(string) bool { return false }

func (f *fakeEngine) EntityKV() retriever.KVReader   { return emptyKV{} }
func (f *fakeEngine) RelationKV() retriever.KVReader { return emptyKV{} }

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return f.closeErr
}

type emptyKV struct{}

func (emptyKV) List(context.Context) (map[string]map[string]any, error) {
	return map[string]map[string]any{}, nil
}

// newTestService wires the fake engine into a service over temp dirs.
func newTestService(t *testing.T, eng *fakeEngine) *Service {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Paths.WorkingDir = t.TempDir()
	cfg.Paths.UploadDir = t.TempDir()
	return New(cfg, retriever.Providers{}, nil, WithFactory(func(context.Context) (retriever.Engine, error) {
		return eng, nil
	}))
}
