package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ProviderLine describes one provider binding for display.
type ProviderLine struct {
	Kind    string `json:"kind"`
	Backend string `json:"backend,omitempty"`
	Model   string `json:"model,omitempty"`
	State   string `json:"state"` // "ready", "unbound", "no_key"
}

// StatusInfo contains service and index health information.
type StatusInfo struct {
	WorkingDir  string `json:"working_dir"`
	ServerAddr  string `json:"server_addr"`
	ServerState string `json:"server_state"` // "running", "stopped", "unreachable"
	Version     string `json:"version,omitempty"`

	// Catalog counts by lifecycle state plus total
	TotalDocuments int            `json:"total_documents"`
	Counts         map[string]int `json:"counts"`
	LastIndexed    time.Time      `json:"last_indexed"`

	// Storage sizes (in bytes)
	CatalogSize int64 `json:"catalog_size"`
	IndexSize   int64 `json:"index_size"`
	ChatSize    int64 `json:"chat_size"`
	TotalSize   int64 `json:"total_size"`

	Providers []ProviderLine `json:"providers"`
}

// StatusRenderer displays service status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("RAG Server Status"))

	_, _ = fmt.Fprintf(r.out, "  Server:      %s", r.renderState(info.ServerState))
	if info.ServerAddr != "" {
		_, _ = fmt.Fprintf(r.out, " (%s)", info.ServerAddr)
	}
	_, _ = fmt.Fprintln(r.out)
	if info.Version != "" {
		_, _ = fmt.Fprintf(r.out, "  Version:     %s\n", info.Version)
	}
	_, _ = fmt.Fprintf(r.out, "  Working dir: %s\n", info.WorkingDir)
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Documents:")
	_, _ = fmt.Fprintf(r.out, "    Total:      %d\n", info.TotalDocuments)
	for _, state := range sortedStates(info.Counts) {
		label := titleCase(strings.ToLower(state)) + ":"
		_, _ = fmt.Fprintf(r.out, "    %-11s %d\n", label, info.Counts[state])
	}
	if !info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(r.out, "    Last indexed: %s\n", formatTime(info.LastIndexed))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Catalog: %s\n", FormatBytes(info.CatalogSize))
	_, _ = fmt.Fprintf(r.out, "    Index:   %s\n", FormatBytes(info.IndexSize))
	_, _ = fmt.Fprintf(r.out, "    Chat:    %s\n", FormatBytes(info.ChatSize))
	_, _ = fmt.Fprintf(r.out, "    Total:   %s\n", FormatBytes(info.TotalSize))
	_, _ = fmt.Fprintln(r.out)

	if len(info.Providers) > 0 {
		_, _ = fmt.Fprintln(r.out, "  Providers:")
		for _, p := range info.Providers {
			_, _ = fmt.Fprintf(r.out, "    %-10s %s\n", p.Kind+":", r.renderProvider(p))
		}
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderProvider(p ProviderLine) string {
	switch p.State {
	case "unbound":
		return r.styles.Dim.Render("(unbound)")
	case "no_key":
		return describeModel(p) + " " + r.styles.Warning.Render("(no API key)")
	default:
		return describeModel(p) + " " + r.styles.Success.Render("(ready)")
	}
}

func describeModel(p ProviderLine) string {
	if p.Model == "" {
		return p.Backend
	}
	return p.Backend + "/" + p.Model
}

// renderState formats a server state string with color.
func (r *StatusRenderer) renderState(state string) string {
	switch state {
	case "running", "ready":
		return r.styles.Success.Render(state)
	case "stopped":
		return r.styles.Warning.Render(state)
	case "unreachable", "error":
		return r.styles.Error.Render(state)
	default:
		return state
	}
}

// sortedStates returns count keys in lifecycle order, unknown states last.
func sortedStates(counts map[string]int) []string {
	order := map[string]int{
		"pending":    0,
		"processing": 1,
		"indexed":    2,
		"failed":     3,
	}
	states := make([]string, 0, len(counts))
	for s := range counts {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool {
		oi, iok := order[strings.ToLower(states[i])]
		oj, jok := order[strings.ToLower(states[j])]
		if iok && jok {
			return oi < oj
		}
		if iok != jok {
			return iok
		}
		return states[i] < states[j]
	})
	return states
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	now := time.Now()
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
