package logging

import "log/slog"

// SetupMCPMode wires logging for MCP serving. The MCP client owns stdout
// for JSON-RPC and many clients treat stderr output as a broken
// connection, so logs go to the file only, at debug level for full
// diagnostics. Sets the result as the default logger.
func SetupMCPMode() (func(), error) {
	return SetupMCPModeWithLevel("debug")
}

// SetupMCPModeWithLevel is SetupMCPMode at a chosen level.
func SetupMCPModeWithLevel(level string) (func(), error) {
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.WriteToStderr = false

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	logger.Info("mcp_mode_logging_initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", level))
	return cleanup, nil
}
