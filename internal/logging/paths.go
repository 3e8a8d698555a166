package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the fallback log directory (~/.ragserver/logs/),
// used when no working directory is configured yet. Falls back to the temp
// directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ragserver", "logs")
	}
	return filepath.Join(home, ".ragserver", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "ragserver.log")
}

// EncoderLogPath returns the default native encoder runtime log path.
// The runtime writes this file itself once a local GPU model is loaded.
func EncoderLogPath() string {
	return filepath.Join(DefaultLogDir(), "encoder.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceServer is the Go server logs (default).
	LogSourceServer LogSource = "server"
	// LogSourceEncoder is the native encoder runtime logs.
	LogSourceEncoder LogSource = "encoder"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFile attempts to find the log file for viewing.
// Priority:
// 1. Explicit path (if provided)
// 2. ~/.ragserver/logs/ragserver.log (global fallback)
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found. The server may not have written logs yet.\nExpected at: %s", globalPath)
}

// FindLogFileBySource finds log files based on the source type.
// When an explicit server log path is given with LogSourceAll, the encoder
// log is looked up next to it. Returns a list of log file paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("log file not found: %s", explicit)
		}
		paths := []string{explicit}
		if source == LogSourceAll {
			sibling := filepath.Join(filepath.Dir(explicit), "encoder.log")
			if _, err := os.Stat(sibling); err == nil {
				paths = append(paths, sibling)
			}
		}
		return paths, nil
	}

	var candidates []string
	switch source {
	case LogSourceServer:
		candidates = []string{DefaultLogPath()}
	case LogSourceEncoder:
		candidates = []string{EncoderLogPath()}
	case LogSourceAll:
		candidates = []string{DefaultLogPath(), EncoderLogPath()}
	default:
		return nil, fmt.Errorf("unknown log source: %s (use: server, encoder, all)", source)
	}

	var paths []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s",
			source, candidates, getLogHint(source))
	}
	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "encoder":
		return LogSourceEncoder
	case "all":
		return LogSourceAll
	default:
		return LogSourceServer
	}
}

// EnsureLogDir creates the fallback log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

// getLogHint returns a helpful message on how to generate logs for the given source.
func getLogHint(source LogSource) string {
	switch source {
	case LogSourceServer:
		return "To generate server logs:\n  ragserver serve"
	case LogSourceEncoder:
		return "Encoder logs appear once a local GPU model is loaded:\n  ragserver serve (with a local_gpu embedding provider)"
	case LogSourceAll:
		return "To generate logs:\n  ragserver serve"
	default:
		return ""
	}
}
