package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragforge/ragserver/internal/catalog"
	"github.com/ragforge/ragserver/internal/client"
	"github.com/ragforge/ragserver/internal/config"
	"github.com/ragforge/ragserver/internal/logging"
	"github.com/ragforge/ragserver/internal/output"
	"github.com/ragforge/ragserver/internal/ui"
)

// pollInterval is how often the reindex command samples the catalog
// through the running server while waiting for completion.
const pollInterval = 500 * time.Millisecond

func newReindexCmd() *cobra.Command {
	var (
		noTUI  bool
		noWait bool
	)

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Trigger a reindex on the running server",
		Long: `Ask the running server to rescan the upload directory and process
pending documents, then watch progress until the queue drains.

The server must be running with the background indexer enabled.`,
		Example: `  # Trigger and watch progress
  ragserver reindex

  # Trigger and return immediately
  ragserver reindex --no-wait

  # Plain text progress (for scripts and CI)
  ragserver reindex --no-tui`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runReindex(ctx, cmd, noTUI, noWait)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Trigger and return without watching progress")

	return cmd
}

func runReindex(ctx context.Context, cmd *cobra.Command, noTUI, noWait bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// File-only logging so slog output does not tear the progress display.
	if logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.ResolvedLogPath(),
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: false,
	}); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	c := client.New(client.BaseURLFor(cfg.Server.Host, cfg.Server.Port), client.DefaultTimeout)

	res, err := c.TriggerIndex(ctx)
	if err != nil {
		return err
	}

	if noWait {
		out := output.New(cmd.OutOrStdout())
		out.Successf("Indexing triggered: %d scanned, %d pending, %d processing",
			res.Scanned, res.Pending, res.Processing)
		return nil
	}

	return watchReindex(ctx, cmd, cfg, c, res, noTUI)
}

// watchReindex polls the index status and drives the progress renderer
// until every catalog record reaches a terminal state.
func watchReindex(ctx context.Context, cmd *cobra.Command, cfg *config.Config, c *client.Client, res client.TriggerResponse, noTUI bool) error {
	uiCfg := ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(noTUI),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithWorkingDir(cfg.Paths.WorkingDir))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Message: fmt.Sprintf("Scanned %d files, %d queued", res.Scanned, res.Pending),
	})

	start := time.Now()
	reported := make(map[string]bool)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		snap, err := c.IndexStatus(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// One flaky poll must not kill a long reindex.
			slog.Warn("index_status_poll_failed", slog.String("error", err.Error()))
		} else {
			for _, d := range snap.Documents {
				if d.Status == catalog.StatusFailed && !reported[d.Path] {
					reported[d.Path] = true
					renderer.AddError(ui.ErrorEvent{File: d.Path, Err: errors.New(d.ErrorMessage)})
				}
			}

			renderer.UpdateProgress(ui.ProgressEvent{
				Stage:       ui.StageIndexing,
				Current:     snap.Done(),
				Total:       snap.Total,
				CurrentFile: snap.InFlight(),
			})

			if snap.Done() >= snap.Total {
				failed := snap.Failed()
				renderer.Complete(ui.CompletionStats{
					Documents: snap.Total,
					Indexed:   snap.Done() - failed,
					Failed:    failed,
					Duration:  time.Since(start),
					Errors:    len(reported),
				})
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
