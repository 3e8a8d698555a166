package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragforge/ragserver/internal/preflight"
	"github.com/ragforge/ragserver/internal/ui"
)

func newDoctorCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run system diagnostics to ensure ragserver can operate correctly.

Checks:
  - Working and upload directories (writable)
  - Disk space
  - File descriptor limits
  - Catalog database health
  - Provider bindings (LLM, embedding, vision, reranker)
  - Native encoder runtime, when a local_gpu backend is configured

Provider checks are non-critical warnings: an unbound embedding provider
degrades retrieval to keyword-only, an unbound LLM disables answer
synthesis.

Use --verbose for detailed diagnostic information.
Use --json for machine-readable output.`,
		Example: `  # Run diagnostics
  ragserver doctor

  # Verbose output with details
  ragserver doctor --verbose

  # JSON output for scripting
  ragserver doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDoctor(ctx, cmd, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")

	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, verbose bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)

	results := checker.RunAll(ctx, cfg)

	if jsonOut {
		if err := doctorJSON(cmd, checker, results); err != nil {
			return err
		}
	} else if ui.IsTTY(os.Stdout) {
		renderer := ui.NewCheckRenderer(cmd.OutOrStdout(), ui.DetectNoColor(), verbose)
		renderer.Render(toCheckLines(results), checker.SummaryStatus(results))
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		return errors.New("system check failed")
	}

	return nil
}

// JSONOutput is the structure for JSON output.
type JSONOutput struct {
	Status   string            `json:"status"`
	Checks   []JSONCheckResult `json:"checks"`
	Warnings []string          `json:"warnings,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
}

// JSONCheckResult is a single check result for JSON output.
type JSONCheckResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func doctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	output := JSONOutput{
		Status: checker.SummaryStatus(results),
		Checks: make([]JSONCheckResult, len(results)),
	}

	for i, r := range results {
		output.Checks[i] = JSONCheckResult{
			Name:     r.Name,
			Status:   statusToString(r.Status),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}

		if r.IsCritical() {
			output.Errors = append(output.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			output.Warnings = append(output.Warnings, r.Name+": "+r.Message)
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func toCheckLines(results []preflight.CheckResult) []ui.CheckLine {
	lines := make([]ui.CheckLine, len(results))
	for i, r := range results {
		lines[i] = ui.CheckLine{
			Name:     r.Name,
			Status:   statusToString(r.Status),
			Message:  r.Message,
			Details:  r.Details,
			Required: r.Required,
		}
	}
	return lines
}

func statusToString(s preflight.CheckStatus) string {
	switch s {
	case preflight.StatusPass:
		return "pass"
	case preflight.StatusWarn:
		return "warn"
	case preflight.StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}
