// Package configs provides the embedded configuration template for
// ragserver.
//
// The template is embedded at build time using Go's //go:embed directive so
// it is available in all distributions (source builds and binary releases).
// `ragserver init` writes it to ./ragserver.yaml (or the user config path
// with --user); internal/config.Load applies it on top of the hardcoded
// defaults.
//
// To modify the template, edit ragserver.example.yaml in this directory and
// rebuild.
package configs

import _ "embed"

// ExampleConfig is the commented example configuration.
// Created by: `ragserver init` at ./ragserver.yaml
// Contains: every section with its default value, plus commented provider
// binding examples.
//
//go:embed ragserver.example.yaml
var ExampleConfig string
