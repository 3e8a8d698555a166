// Package cmd provides the CLI commands for ragserver.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ragforge/ragserver/internal/config"
	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/profiling"
	"github.com/ragforge/ragserver/pkg/version"
)

// Global flags shared by every subcommand.
var (
	configPath string
	logLevel   string
	jsonOut    bool
)

// Profiling flags
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// NewRootCmd creates the root command for the ragserver CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragserver",
		Short: "Retrieval-augmented generation backend server",
		Long: `RAGServer ingests documents into a hybrid retrieval index
(keyword + vector) and answers questions over them through an HTTP API
and an MCP stdio surface.

Run 'ragserver init' to write a starter config, then 'ragserver serve'.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("ragserver version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: ./ragserver.yaml, then user config)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Machine-readable JSON output where supported")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfiling
	cmd.PersistentPostRunE = stopProfiling

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfiling starts CPU and trace capture when the flags ask for it.
func startProfiling(_ *cobra.Command, _ []string) error {
	var err error

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}

	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}

	return nil
}

// stopProfiling stops capture and writes the heap snapshot if requested.
func stopProfiling(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}

	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	return nil
}

// loadConfig loads configuration honoring the global --config and
// --log-level flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		lv := strings.ToLower(logLevel)
		switch lv {
		case "debug", "info", "warn", "error":
			cfg.Logging.Level = lv
		default:
			return nil, fmt.Errorf("invalid --log-level %q (use debug, info, warn, or error)", logLevel)
		}
	}
	return cfg, nil
}

// Execute runs the root command, rendering structured errors with their
// hint and code (or as JSON under --json) instead of cobra's bare
// message.
func Execute() error {
	root := NewRootCmd()
	root.SilenceErrors = true

	err := root.Execute()
	if err == nil {
		return nil
	}
	if jsonOut {
		if data, jerr := ragerrors.FormatJSON(err); jerr == nil {
			fmt.Fprintln(root.ErrOrStderr(), string(data))
			return err
		}
	}
	fmt.Fprint(root.ErrOrStderr(), ragerrors.FormatForCLI(err))
	return err
}
