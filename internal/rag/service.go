// Package rag assembles the model providers and the retrieval engine into
// the one service the HTTP and MCP surfaces call. The service owns lazy
// engine construction, uniform document-processing results, inline-image
// persistence for multimodal queries and ordered shutdown of everything it
// holds.
package rag

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ragforge/ragserver/internal/config"
	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/ingest"
	"github.com/ragforge/ragserver/internal/provider"
	"github.com/ragforge/ragserver/internal/retriever"
)

// Factory builds the retrieval engine on first use. The returned engine is
// not yet initialized; the service calls Init once and caches the outcome.
type Factory func(ctx context.Context) (retriever.Engine, error)

// Service is the application facade over providers and retrieval storage.
// Safe for concurrent use.
type Service struct {
	cfg    *config.Config
	models retriever.Providers
	log    *slog.Logger

	workingDir string
	uploadDir  string

	factory Factory

	mu      sync.Mutex
	retr    retriever.Engine
	retrErr error
	closed  bool
}

// Option tweaks service construction.
type Option func(*Service)

// WithFactory replaces how the retrieval engine is built. Tests inject
// fakes here.
func WithFactory(f Factory) Option {
	return func(s *Service) { s.factory = f }
}

// New builds the service. The retrieval engine is constructed on first use,
// so New never touches the working directory.
func New(cfg *config.Config, models retriever.Providers, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		cfg:        cfg,
		models:     models,
		log:        log,
		workingDir: cfg.Paths.WorkingDir,
		uploadDir:  cfg.Paths.UploadDir,
	}
	s.factory = s.newLite
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newLite is the default factory: the built-in engine over the configured
// working directory.
func (s *Service) newLite(_ context.Context) (retriever.Engine, error) {
	return retriever.NewLite(retriever.Config{
		WorkingDir:     s.workingDir,
		KeywordBackend: s.cfg.Retriever.KeywordBackend,
		Candidates:     s.cfg.Retriever.TopK,
		VectorM:        s.cfg.Retriever.VectorM,
		VectorEf:       s.cfg.Retriever.VectorEf,
		Ingest: ingest.Options{
			ChunkSize:    s.cfg.Retriever.ChunkSize,
			ChunkOverlap: s.cfg.Retriever.ChunkOverlap,
			ExecCommand:  s.cfg.Parser.Command,
			ExecArgs:     s.cfg.Parser.Args,
			ExecTimeout:  s.cfg.Parser.RunTimeout(),
		},
	}, s.models, s.log)
}

// Retriever returns the initialized engine, constructing it on first call.
// A failed construction is cached and returned to every caller until
// Reset, so a broken working directory does not get re-probed per request.
func (s *Service) Retriever(ctx context.Context) (retriever.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ragerrors.New(ragerrors.ErrCodeNotInitialized, "service is shut down", nil)
	}
	if s.retr != nil {
		return s.retr, nil
	}
	if s.retrErr != nil {
		return nil, s.retrErr
	}

	eng, err := s.factory(ctx)
	if err == nil {
		if err = eng.Init(ctx); err != nil {
			_ = eng.Close()
		}
	}
	if err != nil {
		s.retrErr = ragerrors.Wrap(ragerrors.ErrCodeNotInitialized, err)
		s.log.Error("retriever_init_failed",
			slog.String("working_dir", s.workingDir),
			slog.String("error", err.Error()))
		return nil, s.retrErr
	}

	s.retr = eng
	s.log.Info("retriever_ready", slog.String("working_dir", s.workingDir))
	return eng, nil
}

// Ready reports whether the engine has been constructed successfully. It
// never triggers construction.
func (s *Service) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retr != nil
}

// Reset drops the cached engine (closing it if open) and clears a cached
// construction failure, so the next call rebuilds from disk.
func (s *Service) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.retr != nil {
		err = s.retr.Close()
	}
	s.retr = nil
	s.retrErr = nil
	s.log.Info("retriever_reset")
	return err
}

// ProviderInfo names one configured model binding.
type ProviderInfo struct {
	Kind    string `json:"kind"`
	Backend string `json:"backend"`
	Model   string `json:"model"`
}

// ServiceStatus is the facade's self-description for status surfaces.
type ServiceStatus struct {
	Initialized bool           `json:"initialized"`
	WorkingDir  string         `json:"working_dir"`
	Providers   []ProviderInfo `json:"providers"`
}

// Status reports construction state and the configured bindings. It never
// triggers engine construction.
func (s *Service) Status() ServiceStatus {
	s.mu.Lock()
	initialized := s.retr != nil
	s.mu.Unlock()

	st := ServiceStatus{
		Initialized: initialized,
		WorkingDir:  s.workingDir,
	}
	for _, mc := range []provider.ModelConfig{
		s.cfg.Providers.Embedding,
		s.cfg.Providers.LLM,
		s.cfg.Providers.Vision,
		s.cfg.Providers.Reranker,
	} {
		if !mc.IsConfigured() {
			continue
		}
		st.Providers = append(st.Providers, ProviderInfo{
			Kind:    mc.Kind,
			Backend: mc.Backend,
			Model:   mc.Model,
		})
	}
	return st
}

// Shutdown closes the engine and every provider. Errors are joined rather
// than short-circuiting so one bad provider does not leak the rest.
// Idempotent; calls after the first return nil.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	retr := s.retr
	s.retr = nil
	s.retrErr = nil
	s.mu.Unlock()

	var errs []error
	if retr != nil {
		errs = append(errs, retr.Close())
	}
	if s.models.Embedder != nil {
		errs = append(errs, s.models.Embedder.Shutdown())
	}
	if s.models.LLM != nil {
		errs = append(errs, s.models.LLM.Shutdown())
	}
	if s.models.Vision != nil {
		errs = append(errs, s.models.Vision.Shutdown())
	}
	if s.models.Reranker != nil {
		errs = append(errs, s.models.Reranker.Shutdown())
	}

	if err := errors.Join(errs...); err != nil {
		s.log.Warn("service_shutdown_dirty", slog.String("error", err.Error()))
		return err
	}
	s.log.Info("service_shutdown")
	return nil
}
