package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ragforge/ragserver/configs"
	"github.com/ragforge/ragserver/internal/config"
	"github.com/ragforge/ragserver/internal/output"
	"github.com/ragforge/ragserver/pkg/version"
)

func newInitCmd() *cobra.Command {
	var (
		force bool
		user  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example configuration file",
		Long: `Write the commented example configuration to ./ragserver.yaml.

The file documents every section with its default value plus commented
provider binding examples. Edit only what you need; the server runs
with sensible defaults without any config at all.

With --user the file goes to the user config path
(~/.config/ragserver/config.yaml), which applies to every working
directory on this machine.`,
		Example: `  # Write ./ragserver.yaml
  ragserver init

  # Overwrite an existing file
  ragserver init --force

  # Write the user-level config instead
  ragserver init --user`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force, user)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.Flags().BoolVar(&user, "user", false, "Write to the user config path instead of ./ragserver.yaml")

	return cmd
}

func runInit(cmd *cobra.Command, force, user bool) error {
	out := output.New(cmd.OutOrStdout())

	out.Statusf("🚀", "RAGServer %s", version.Version)
	out.Newline()

	path := "ragserver.yaml"
	if user {
		path = config.GetUserConfigPath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if _, err := os.Stat(path); err == nil && !force {
		out.Warningf("Config file already exists: %s", path)
		out.Status("💡", "Use --force to overwrite")
		return nil
	}

	if err := os.WriteFile(path, []byte(configs.ExampleConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Successf("Wrote %s", path)
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Bind an embedding provider under providers.embedding")
	out.Status("", "  2. Export RAGSERVER_EMBEDDING_API_KEY for remote backends")
	out.Status("", "  3. Start the server: ragserver serve")
	out.Status("", "  4. Verify with: ragserver doctor")

	return nil
}
