// Package ui renders reindex progress and server status in the
// terminal, with a bubbletea TUI for interactive use and a plain line
// writer for everything else.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents a reindex stage as observed from the catalog.
type Stage int

const (
	// StageScanning covers the trigger and the first catalog poll.
	StageScanning Stage = iota
	// StageIndexing is the document processing stage.
	StageIndexing
	// StageComplete indicates the reindex is done.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageIndexing:
		return "Indexing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage icon for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageIndexing:
		return "INDEX"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is one progress update fed to a Renderer. Message, when
// set, takes precedence over CurrentFile in the display.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent is a per-document failure. IsWarn splits recoverable
// problems from real errors in the summary counts.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// CompletionStats contains final reindex statistics.
type CompletionStats struct {
	Documents int
	Indexed   int
	Failed    int
	Duration  time.Duration
	Errors    int
	Warnings  int
}

// Renderer is the progress display contract shared by the TUI and the
// plain fallback. Start before the first event, Stop after Complete.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	WorkingDir string // Working directory path to display in header
}

// ConfigOption modifies a Config during construction.
type ConfigOption func(*Config)

// WithForcePlain forces the plain text renderer.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithWorkingDir sets the working directory shown in the header.
func WithWorkingDir(dir string) ConfigOption {
	return func(c *Config) { c.WorkingDir = dir }
}

// NewConfig builds a Config around the output writer.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the renderer for the environment: the TUI on an
// interactive terminal, plain text for pipes, CI, or --plain. A TUI
// construction failure falls back to plain rather than erroring.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || DetectCI() || !IsTTY(cfg.Output) {
		return NewPlainRenderer(cfg)
	}

	if tui, err := NewTUIRenderer(cfg); err == nil {
		return tui
	}
	return NewPlainRenderer(cfg)
}

// IsTTY reports whether the writer is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

// ciEnvVars are the markers checked by DetectCI.
var ciEnvVars = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}

// DetectCI reports whether we appear to be running under CI.
func DetectCI() bool {
	for _, v := range ciEnvVars {
		if _, set := os.LookupEnv(v); set {
			return true
		}
	}
	return false
}
