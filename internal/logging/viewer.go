package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxLineBytes bounds one JSON log line when scanning files.
const maxLineBytes = 1 << 20

// followPollInterval is how often followers poll for appended lines.
const followPollInterval = 100 * time.Millisecond

// LogEntry is one parsed JSON log line. Lines that fail to parse keep
// Raw and report IsValid=false so the viewer can still show them.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Msg     string         `json:"msg"`
	Source  string         `json:"source"`
	Attrs   map[string]any `json:"-"`
	Raw     string         `json:"-"`
	IsValid bool           `json:"-"`
}

// ViewerConfig filters and styles viewer output.
type ViewerConfig struct {
	Level      string         // minimum level, empty admits everything
	Pattern    *regexp.Regexp // raw-line match, nil admits everything
	NoColor    bool
	ShowSource bool
}

// Viewer reads, filters and renders server and encoder log files.
type Viewer struct {
	config ViewerConfig
	out    io.Writer
}

func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{config: cfg, out: out}
}

// Tail returns the matching entries among the last n lines of one file.
func (v *Viewer) Tail(path string, n int) ([]LogEntry, error) {
	entries, err := v.tailFile(path, n, sourceFromPath(path))
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// TailMultiple merges the tails of several files into one timeline,
// sorted by timestamp and truncated to the last n entries. Files that
// cannot be read are skipped.
func (v *Viewer) TailMultiple(paths []string, n int) ([]LogEntry, error) {
	var merged []LogEntry
	for _, path := range paths {
		entries, err := v.tailFile(path, n, sourceFromPath(path))
		if err != nil {
			continue
		}
		merged = append(merged, entries...)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Time.Before(merged[j].Time)
	})
	if len(merged) > n {
		merged = merged[len(merged)-n:]
	}
	return merged, nil
}

func (v *Viewer) tailFile(path string, n int, source string) ([]LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, maxLineBytes), maxLineBytes)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	var entries []LogEntry
	for _, line := range lines {
		entry := v.parseLine(line)
		if entry.Source == "" {
			entry.Source = source
		}
		if v.matchesFilter(entry) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Follow streams new entries appended to one file until ctx is done.
func (v *Viewer) Follow(ctx context.Context, path string, entries chan<- LogEntry) error {
	return v.followFile(ctx, path, sourceFromPath(path), entries)
}

// FollowMultiple follows several files at once, interleaving entries as
// they appear. Returns once ctx is done; a file that cannot be opened
// stops only its own follower.
func (v *Viewer) FollowMultiple(ctx context.Context, paths []string, entries chan<- LogEntry) error {
	var wg sync.WaitGroup
	for _, path := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_ = v.followFile(ctx, p, sourceFromPath(p), entries)
		}(path)
	}
	wg.Wait()
	return nil
}

// followFile seeks to the end and polls for appended lines. Polling is
// deliberate: it survives rotation-by-rename better than inotify on the
// original fd and needs no platform-specific machinery.
func (v *Viewer) followFile(ctx context.Context, path, source string, entries chan<- LogEntry) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	reader := bufio.NewReader(file)
	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				break
			}
			line = strings.TrimSuffix(line, "\n")
			if line == "" {
				continue
			}

			entry := v.parseLine(line)
			if entry.Source == "" {
				entry.Source = source
			}
			if !v.matchesFilter(entry) {
				continue
			}
			select {
			case entries <- entry:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Print renders entries to the viewer's output.
func (v *Viewer) Print(entries []LogEntry) {
	for _, entry := range entries {
		fmt.Fprintln(v.out, v.FormatEntry(entry))
	}
}

// FormatEntry renders one entry as a human-readable line. Unparseable
// entries come back raw.
func (v *Viewer) FormatEntry(entry LogEntry) string {
	if !entry.IsValid {
		return entry.Raw
	}

	var b strings.Builder
	b.WriteString(entry.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(v.formatLevel(entry.Level))
	b.WriteByte(' ')
	if v.config.ShowSource && entry.Source != "" {
		b.WriteString(v.formatSource(entry.Source))
		b.WriteByte(' ')
	}
	b.WriteString(entry.Msg)

	for _, k := range sortedKeys(entry.Attrs) {
		fmt.Fprintf(&b, " %s=%v", k, entry.Attrs[k])
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseLine decodes one slog JSON line. time, level, msg and source are
// lifted out; everything else lands in Attrs.
func (v *Viewer) parseLine(line string) LogEntry {
	entry := LogEntry{Raw: line}

	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return entry
	}
	entry.IsValid = true

	if t, ok := data["time"].(string); ok {
		entry.Time, _ = time.Parse(time.RFC3339Nano, t)
	}
	entry.Level, _ = data["level"].(string)
	entry.Msg, _ = data["msg"].(string)
	entry.Source, _ = data["source"].(string)

	entry.Attrs = make(map[string]any)
	for k, val := range data {
		switch k {
		case "time", "level", "msg", "source":
		default:
			entry.Attrs[k] = val
		}
	}
	return entry
}

func (v *Viewer) matchesFilter(entry LogEntry) bool {
	if v.config.Level != "" &&
		LevelFromString(entry.Level) < LevelFromString(v.config.Level) {
		return false
	}
	if v.config.Pattern != nil && !v.config.Pattern.MatchString(entry.Raw) {
		return false
	}
	return true
}

const ansiReset = "\033[0m"

func (v *Viewer) formatLevel(level string) string {
	label := strings.ToUpper(level)
	if len(label) > 5 {
		label = label[:5]
	}
	label = fmt.Sprintf("%-5s", label)
	if v.config.NoColor {
		return label
	}

	switch strings.ToLower(level) {
	case "debug":
		return "\033[90m" + label + ansiReset
	case "info":
		return "\033[32m" + label + ansiReset
	case "warn", "warning":
		return "\033[33m" + label + ansiReset
	case "error":
		return "\033[31m" + label + ansiReset
	default:
		return label
	}
}

func (v *Viewer) formatSource(source string) string {
	label := "[" + source + "]"
	if v.config.NoColor {
		return label
	}

	switch source {
	case "server":
		return "\033[36m" + label + ansiReset
	case "encoder":
		return "\033[35m" + label + ansiReset
	default:
		return "\033[90m" + label + ansiReset
	}
}

// sourceFromPath names the log source after the file: ragserver.log is
// the Go server, encoder.log the native runtime.
func sourceFromPath(path string) string {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "encoder"):
		return "encoder"
	case strings.HasPrefix(base, "ragserver"):
		return "server"
	default:
		return "unknown"
	}
}
