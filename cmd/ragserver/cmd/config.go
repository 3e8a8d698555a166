package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ragforge/ragserver/internal/config"
	"github.com/ragforge/ragserver/internal/output"
	"github.com/ragforge/ragserver/internal/provider"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect the ragserver configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. Config file (--config path, ./ragserver.yaml, or ~/.config/ragserver/config.yaml)
  3. Environment variables (RAGSERVER_*)`,
		Example: `  # Show effective configuration (merged from all sources)
  ragserver config show

  # Print the config file in effect
  ragserver config path`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging all sources.

Provider API keys are masked in the output.`,
		Example: `  # Show merged configuration
  ragserver config show

  # Show as JSON
  ragserver config show --json

  # Show only the config file contents (over defaults)
  ragserver config show --source file`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, source)
		},
	}

	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, file, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file in effect",
		Long: `Print the path of the configuration file that would be loaded:
the --config path if given, else the first of ./ragserver.yaml,
./ragserver.yml, or the user config.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if p := config.DiscoverPath(configPath); p != "" {
				fmt.Fprintln(cmd.OutOrStdout(), p)
				return nil
			}
			out := output.New(cmd.OutOrStdout())
			out.Warning("No configuration file found")
			out.Statusf("📁", "User config would be: %s", config.GetUserConfigPath())
			out.Status("💡", "Run 'ragserver init' to create one")
			return nil
		},
	}
}

func runConfigShow(cmd *cobra.Command, source string) error {
	out := output.New(cmd.OutOrStdout())

	var cfg *config.Config
	var sourceDesc string

	switch source {
	case "merged":
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = loaded
		sourceDesc = "merged (defaults + file + env)"

	case "file":
		path := config.DiscoverPath(configPath)
		if path == "" {
			out.Warning("No configuration file found")
			out.Statusf("📁", "Searched: ragserver.yaml, ragserver.yml, %s", config.GetUserConfigPath())
			out.Status("💡", "Run 'ragserver init' to create one")
			return nil
		}
		cfg = config.NewConfig()
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		sourceDesc = fmt.Sprintf("file (%s)", path)

	case "defaults":
		cfg = config.NewConfig()
		sourceDesc = "defaults (hardcoded)"

	default:
		return fmt.Errorf("invalid source: %s (use: merged, file, defaults)", source)
	}

	shown := redactSecrets(cfg)

	if jsonOut {
		data, err := json.MarshalIndent(shown, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	out.Statusf("📋", "Configuration source: %s", sourceDesc)
	out.Newline()

	data, err := yaml.Marshal(shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	return nil
}

// redactSecrets returns a copy of cfg with provider API keys masked.
// Extra maps stay shared with the original; only key strings change.
func redactSecrets(cfg *config.Config) *config.Config {
	shown := *cfg
	for _, mc := range []*provider.ModelConfig{
		&shown.Providers.LLM,
		&shown.Providers.Embedding,
		&shown.Providers.Vision,
		&shown.Providers.Reranker,
	} {
		if mc.APIKey != "" {
			mc.APIKey = "****"
		}
	}
	return &shown
}
