package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config describes one logging destination.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string
	// FilePath is where the JSON log lands.
	FilePath string
	// MaxSizeMB and MaxFiles bound rotation (defaults 10 MB, 5 files).
	MaxSizeMB int
	MaxFiles  int
	// WriteToStderr mirrors every line to stderr as well.
	WriteToStderr bool
}

// DefaultConfig logs info-and-up to the user-scoped log file and stderr.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig is DefaultConfig at debug level.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// Setup opens the rotating log file and builds a JSON slog.Logger over
// it. The returned cleanup syncs and closes the file; call it on the way
// out.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = writer
	if cfg.WriteToStderr {
		out = io.MultiWriter(writer, os.Stderr)
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: LevelFromString(cfg.Level),
	}))

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}
	return logger, cleanup, nil
}

// LevelFromString maps a level name onto slog.Level. Unknown names mean
// info.
func LevelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
