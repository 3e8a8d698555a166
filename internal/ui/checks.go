package ui

import (
	"fmt"
	"io"
	"strings"
)

// CheckLine is one diagnostic result for display. The doctor command
// maps preflight results into these.
type CheckLine struct {
	Name     string `json:"name"`
	Status   string `json:"status"` // "pass", "warn", "fail"
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
	Required bool   `json:"required"`
}

// CheckRenderer displays diagnostic results with terminal styling.
type CheckRenderer struct {
	out     io.Writer
	styles  Styles
	verbose bool
}

// NewCheckRenderer creates a check renderer.
func NewCheckRenderer(out io.Writer, noColor, verbose bool) *CheckRenderer {
	return &CheckRenderer{
		out:     out,
		styles:  GetStyles(noColor),
		verbose: verbose,
	}
}

// Render displays the check lines and the summary ("ready",
// "ready_with_warnings" or "failed").
func (r *CheckRenderer) Render(lines []CheckLine, summary string) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("RAG Server System Check"))

	for _, line := range lines {
		_, _ = fmt.Fprintf(r.out, "  %s %s: %s\n", r.mark(line.Status), line.Name, line.Message)
		if r.verbose && line.Details != "" {
			_, _ = fmt.Fprintf(r.out, "      %s\n", r.styles.Dim.Render(line.Details))
		}
	}

	_, _ = fmt.Fprintf(r.out, "\n%s\n", r.renderSummary(summary))

	if errs := collect(lines, "fail", true); len(errs) > 0 {
		_, _ = fmt.Fprintf(r.out, "\n%d error(s):\n", len(errs))
		for _, e := range errs {
			_, _ = fmt.Fprintf(r.out, "  - %s\n", r.styles.Error.Render(e))
		}
	}
	if warns := collectWarnings(lines); len(warns) > 0 {
		_, _ = fmt.Fprintf(r.out, "\n%d warning(s):\n", len(warns))
		for _, w := range warns {
			_, _ = fmt.Fprintf(r.out, "  - %s\n", r.styles.Warning.Render(w))
		}
	}

	return nil
}

func (r *CheckRenderer) mark(status string) string {
	switch status {
	case "pass":
		return r.styles.Success.Render("✓")
	case "warn":
		return r.styles.Warning.Render("!")
	case "fail":
		return r.styles.Error.Render("✗")
	default:
		return "?"
	}
}

func (r *CheckRenderer) renderSummary(summary string) string {
	label := "Status: " + strings.ToUpper(strings.ReplaceAll(summary, "_", " "))
	switch summary {
	case "ready":
		return r.styles.Success.Render(label)
	case "ready_with_warnings":
		return r.styles.Warning.Render(label)
	default:
		return r.styles.Error.Render(label)
	}
}

// collect gathers "name: message" strings for lines with the given
// status, filtered by whether the check is required.
func collect(lines []CheckLine, status string, required bool) []string {
	var out []string
	for _, l := range lines {
		if l.Status == status && l.Required == required {
			out = append(out, l.Name+": "+l.Message)
		}
	}
	return out
}

// collectWarnings gathers warn lines plus non-required failures, which
// degrade the service without blocking it.
func collectWarnings(lines []CheckLine) []string {
	out := collect(lines, "warn", true)
	out = append(out, collect(lines, "warn", false)...)
	out = append(out, collect(lines, "fail", false)...)
	return out
}
