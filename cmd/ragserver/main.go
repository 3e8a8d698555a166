// Package main provides the entry point for the ragserver CLI.
package main

import (
	"os"

	"github.com/ragforge/ragserver/cmd/ragserver/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
