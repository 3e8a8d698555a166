// Package logging provides file-based JSON logging with size rotation for
// ragserver. The server writes structured slog output to
// <working_dir>/logs/ragserver.log; the native encoder runtime, when loaded,
// writes its own encoder.log next to it. The `ragserver logs` subcommand
// reads both through the viewer in this package.
//
// In MCP mode stdout carries JSON-RPC, so logging goes to file only and
// never touches stdout or stderr.
package logging
