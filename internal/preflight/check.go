package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ragforge/ragserver/internal/config"
)

// CheckStatus is the outcome of one preflight check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

var statusNames = map[CheckStatus]string{
	StatusPass: "PASS",
	StatusWarn: "WARN",
	StatusFail: "FAIL",
}

func (s CheckStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// CheckResult holds the outcome of a single preflight check. Required
// marks checks whose failure should block startup.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports whether this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs the startup validation suite.
type Checker struct {
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose includes check details in the printed report.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) { c.verbose = verbose }
}

// WithOutput redirects the printed report.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) { c.output = w }
}

// New creates a Checker writing to stdout unless overridden.
func New(opts ...Option) *Checker {
	c := &Checker{output: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs all preflight checks against the given configuration and
// returns the results. Directory checks run first so the disk and catalog
// checks see the directories they depend on.
func (c *Checker) RunAll(ctx context.Context, cfg *config.Config) []CheckResult {
	results := []CheckResult{
		c.CheckDirectory("working_dir", cfg.Paths.WorkingDir),
		c.CheckDirectory("upload_dir", cfg.Paths.UploadDir),
		c.CheckDiskSpace(cfg.Paths.WorkingDir),
		c.CheckFileDescriptors(),
		c.CheckCatalog(ctx, cfg),
	}
	results = append(results, c.CheckProviders(cfg)...)
	results = append(results, c.CheckNativeRuntime(cfg))
	return results
}

// HasCriticalFailures reports whether any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus collapses the results into "failed",
// "ready_with_warnings", or "ready". Failures of optional checks count
// as warnings.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	status := "ready"
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			status = "ready_with_warnings"
		}
	}
	return status
}

// PrintResults writes the human-readable report to the configured
// output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "RAG Server System Check")
	_, _ = fmt.Fprintln(c.output, "=======================")
	_, _ = fmt.Fprintln(c.output)

	var warnings, errors []string
	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
		switch {
		case r.IsCritical():
			errors = append(errors, r.Name+": "+r.Message)
		case r.Status == StatusWarn:
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	c.printIssues("error", errors)
	c.printIssues("warning", warnings)
}

func (c *Checker) printIssues(kind string, issues []string) {
	if len(issues) == 0 {
		return
	}
	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "%d %s(s):\n", len(issues), kind)
	for _, issue := range issues {
		_, _ = fmt.Fprintf(c.output, "  - %s\n", issue)
	}
}

// CheckDirectory ensures a storage directory exists and is writable,
// creating it if missing.
func (c *Checker) CheckDirectory(name, path string) CheckResult {
	result := CheckResult{
		Name:     name,
		Required: true,
	}

	if path == "" {
		result.Status = StatusFail
		result.Message = "path is empty"
		return result
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", path, err)
		return result
	}

	probe := filepath.Join(path, ".ragserver-preflight")
	f, err := os.Create(probe)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("not writable: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(probe)

	result.Status = StatusPass
	result.Message = path
	return result
}
