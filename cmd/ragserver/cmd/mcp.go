package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragforge/ragserver/internal/catalog"
	"github.com/ragforge/ragserver/internal/logging"
	"github.com/ragforge/ragserver/internal/mcpserver"
	"github.com/ragforge/ragserver/internal/rag"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve retrieval tools over MCP stdio",
		Long: `Run ragserver as a Model Context Protocol server on stdio.

Exposes rag_query, rag_process_document and rag_status as MCP tools,
plus the index catalog as a resource. stdout carries the JSON-RPC
stream, so logs go to the log file only.

Add to an MCP client configuration:
  {"command": "ragserver", "args": ["mcp"]}`,
		Example: `  # Run the MCP server (normally launched by the client)
  ragserver mcp

  # With an explicit config
  ragserver mcp --config /etc/ragserver.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMCP(ctx)
		},
	}
}

func runMCP(ctx context.Context) error {
	// stdout belongs to the JSON-RPC stream. Logging comes up before
	// anything else so config errors land in the file too.
	logCleanup, err := setupMCPLogging()
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logCleanup()

	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("config_load_failed", slog.String("error", err.Error()))
		return err
	}

	cat, err := catalog.New(cfg.ResolvedCatalogPath())
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer func() {
		if err := cat.Close(); err != nil {
			logger.Warn("catalog_close_failed", slog.String("error", err.Error()))
		}
	}()

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

	srv, err := mcpserver.NewServer(facade, cat, logger)
	if err != nil {
		return err
	}

	return srv.Serve(ctx)
}

func setupMCPLogging() (func(), error) {
	if logLevel != "" {
		return logging.SetupMCPModeWithLevel(logLevel)
	}
	return logging.SetupMCPMode()
}
