package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per event, no ANSI codes. Used for
// pipes, CI, and --plain.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error { return nil }

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

// UpdateProgress prints "[STAGE] current/total - detail". Events with
// no total and no detail are dropped rather than printing an empty
// line.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	detail := event.Message
	if detail == "" {
		detail = event.CurrentFile
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case event.Total > 0:
		r.printf("[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, detail)
	case detail != "":
		r.printf("[%s] %s\n", event.Stage.Icon(), detail)
	}
}

// AddError prints the failure immediately so CI logs interleave it
// with progress in order.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if event.File != "" {
		r.printf("%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		r.printf("%s: %v\n", prefix, event.Err)
	}
}

// Complete prints the one-line summary.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.printf("Complete: %d/%d document(s) indexed in %s",
		stats.Indexed, stats.Documents, stats.Duration.Round(100*time.Millisecond))
	if stats.Failed > 0 {
		r.printf(" (%d failed)", stats.Failed)
	}
	if stats.Errors > 0 || stats.Warnings > 0 {
		r.printf(" (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	r.printf("\n")
}

// printf writes to the output, ignoring write errors. Callers hold the
// lock.
func (r *PlainRenderer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}
