package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragforge/ragserver/internal/batch"
	"github.com/ragforge/ragserver/internal/catalog"
	"github.com/ragforge/ragserver/internal/chat"
	"github.com/ragforge/ragserver/internal/config"
	"github.com/ragforge/ragserver/internal/indexer"
	"github.com/ragforge/ragserver/internal/lockfile"
	"github.com/ragforge/ragserver/internal/logging"
	"github.com/ragforge/ragserver/internal/preflight"
	"github.com/ragforge/ragserver/internal/provider"
	"github.com/ragforge/ragserver/internal/rag"
	"github.com/ragforge/ragserver/internal/retriever"
	"github.com/ragforge/ragserver/internal/server"
	"github.com/ragforge/ragserver/pkg/version"
)

func newServeCmd() *cobra.Command {
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the RAG server",
		Long: `Start the HTTP API and, when enabled, the background indexer.

The server takes an exclusive lock on the working directory, so a second
serve against the same directory fails fast instead of corrupting the
index.

Stop with Ctrl+C or SIGTERM; in-flight requests drain before exit.`,
		Example: `  # Start with the auto-discovered config
  ragserver serve

  # Explicit config with debug logging
  ragserver serve --config rag.yaml --log-level debug`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, skipCheck)
		},
	}

	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip pre-flight system checks")

	return cmd
}

func runServe(ctx context.Context, skipCheck bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.ResolvedLogPath(),
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logCleanup()
	slog.SetDefault(logger)

	logger.Info("ragserver_starting",
		slog.String("version", version.Version),
		slog.String("working_dir", cfg.Paths.WorkingDir),
		slog.String("upload_dir", cfg.Paths.UploadDir))

	lock := lockfile.New(cfg.Paths.WorkingDir)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	if !skipCheck {
		if err := runChecks(ctx, cfg, logger); err != nil {
			return err
		}
	}

	cat, err := catalog.New(cfg.ResolvedCatalogPath())
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer func() { _ = cat.Close() }()

	models, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return err
	}

	facade := rag.New(cfg, models, logger)
	defer func() {
		if err := facade.Shutdown(context.Background()); err != nil {
			logger.Warn("facade_shutdown_failed", slog.String("error", err.Error()))
		}
	}()

	chatStore, err := chat.Open(cfg.ResolvedChatDBPath())
	if err != nil {
		return fmt.Errorf("failed to open chat store: %w", err)
	}
	defer func() { _ = chatStore.Close() }()

	var trigger server.Indexer // stays nil when the indexer is disabled
	if cfg.Indexer.Enabled {
		ix := indexer.New(cat, facadeProcessor{facade}, indexer.Config{
			UploadDir:        cfg.Paths.UploadDir,
			Interval:         cfg.Indexer.ReconcileInterval(),
			MaxFilesPerBatch: cfg.Indexer.MaxFilesPerBatch,
			Watch:            cfg.Indexer.Watch,
			WatchDebounce:    cfg.Indexer.DebounceInterval(),
			IgnorePatterns:   cfg.Indexer.IgnorePatterns,
		}, logger)
		trigger = ix
		ix.Start(ctx)
		defer ix.Stop()
	} else {
		logger.Info("indexer_disabled")
	}

	srv := server.New(cfg, server.Deps{
		RAG:     facade,
		Catalog: cat,
		Indexer: trigger,
		Chat:    chatStore,
	}, logger)

	err = srv.Run(ctx)
	logger.Info("ragserver_stopped")
	return err
}

// runChecks runs preflight silently, logging non-passing checks instead
// of printing them. Critical failures abort startup.
func runChecks(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	checker := preflight.New(preflight.WithOutput(io.Discard))
	results := checker.RunAll(ctx, cfg)
	for _, r := range results {
		if r.Status == preflight.StatusPass {
			continue
		}
		logger.Warn("preflight_"+strings.ToLower(r.Status.String()),
			slog.String("check", r.Name),
			slog.String("message", r.Message))
	}
	if checker.HasCriticalFailures(results) {
		return errors.New("system check failed, run 'ragserver doctor' for details")
	}
	return nil
}

// facadeProcessor adapts the facade's uniform ProcessResult values to the
// error contract the indexer records in the catalog.
type facadeProcessor struct {
	rag *rag.Service
}

func (p facadeProcessor) ProcessDocument(ctx context.Context, absPath string) error {
	res := p.rag.ProcessDocument(ctx, absPath, "", "")
	if res.Status != rag.StatusSuccess {
		return errors.New(res.Error)
	}
	return nil
}

// buildProviders constructs the configured model bindings. Unbound roles
// stay nil; the engine degrades the features that need them.
func buildProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) (retriever.Providers, error) {
	var models retriever.Providers

	schedCfg := batch.Config{
		MaxBatchSize:   cfg.Scheduler.MaxBatchSize,
		MaxWaitTime:    cfg.Scheduler.MaxWait(),
		MaxBatchTokens: cfg.Scheduler.MaxBatchTokens,
		QueueDepth:     cfg.Scheduler.QueueDepth,
	}

	if mc := cfg.Providers.Embedding; mc.IsConfigured() {
		if mc.WantsLocalGPU() && cfg.Scheduler.EncodeBatchSize > 0 {
			// The runtime reads its internal batch size from the init payload.
			if mc.Extra == nil {
				mc.Extra = map[string]any{}
			}
			mc.Extra["encode_batch_size"] = cfg.Scheduler.EncodeBatchSize
		}
		emb, err := provider.NewEmbedder(ctx, mc, schedCfg, logger)
		if err != nil {
			return models, fmt.Errorf("failed to build embedding provider: %w", err)
		}
		models.Embedder = emb
	} else {
		logger.Warn("embedding_unbound",
			slog.String("hint", "document processing and vector search need providers.embedding"))
	}

	if mc := cfg.Providers.LLM; mc.IsConfigured() {
		llm, err := provider.NewLLM(mc, logger)
		if err != nil {
			shutdownModels(models)
			return models, fmt.Errorf("failed to build llm provider: %w", err)
		}
		models.LLM = llm
	}

	if mc := cfg.Providers.Vision; mc.IsConfigured() {
		vis, err := provider.NewVision(mc, logger)
		if err != nil {
			shutdownModels(models)
			return models, fmt.Errorf("failed to build vision provider: %w", err)
		}
		models.Vision = vis
	}

	if mc := cfg.Providers.Reranker; mc.IsConfigured() {
		rr, err := provider.NewReranker(mc, logger)
		if err != nil {
			shutdownModels(models)
			return models, fmt.Errorf("failed to build reranker provider: %w", err)
		}
		models.Reranker = rr
	}

	return models, nil
}

// shutdownModels releases bindings built before a later one failed.
func shutdownModels(m retriever.Providers) {
	if m.Embedder != nil {
		_ = m.Embedder.Shutdown()
	}
	if m.LLM != nil {
		_ = m.LLM.Shutdown()
	}
	if m.Vision != nil {
		_ = m.Vision.Shutdown()
	}
	if m.Reranker != nil {
		_ = m.Reranker.Shutdown()
	}
}
