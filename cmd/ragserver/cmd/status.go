package cmd

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragforge/ragserver/internal/catalog"
	"github.com/ragforge/ragserver/internal/client"
	"github.com/ragforge/ragserver/internal/config"
	"github.com/ragforge/ragserver/internal/lockfile"
	"github.com/ragforge/ragserver/internal/provider"
	"github.com/ragforge/ragserver/internal/ui"
)

// healthProbeTimeout bounds the status command's server probe. The health
// endpoint answers from memory, so a short deadline keeps status snappy
// when nothing is listening.
const healthProbeTimeout = 2 * time.Second

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server and index status",
		Long: `Show the server state, catalog counts, storage sizes and the
configured provider bindings.

Works against the configured working directory whether or not the
server is running.`,
		Example: `  # Human-readable status
  ragserver status

  # Machine-readable status
  ragserver status --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd)
		},
	}
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	info := collectStatus(ctx, cfg)

	noColor := ui.DetectNoColor() || !ui.IsTTY(os.Stdout)
	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)
	if jsonOut {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// collectStatus gathers everything the renderer shows. Probes that fail
// leave their section zeroed rather than failing the command.
func collectStatus(ctx context.Context, cfg *config.Config) ui.StatusInfo {
	info := ui.StatusInfo{
		WorkingDir: cfg.Paths.WorkingDir,
	}

	// The health endpoint decides "running"; the working-dir lock
	// distinguishes a wedged server from a clean stop.
	base := client.BaseURLFor(cfg.Server.Host, cfg.Server.Port)
	info.ServerAddr = base
	c := client.New(base, healthProbeTimeout)
	if h, err := c.Health(ctx); err == nil {
		info.ServerState = "running"
		info.Version = h.Version
	} else if held, _ := lockfile.Held(cfg.Paths.WorkingDir); held {
		info.ServerState = "unreachable"
	} else {
		info.ServerState = "stopped"
	}

	// Only read an existing catalog; status must not scaffold state.
	catalogPath := cfg.ResolvedCatalogPath()
	if _, err := os.Stat(catalogPath); err == nil {
		if cat, err := catalog.New(catalogPath); err == nil {
			if counts, err := cat.CountByStatus(ctx); err == nil {
				info.Counts = make(map[string]int, len(counts))
				for st, n := range counts {
					info.Counts[string(st)] = n
					info.TotalDocuments += n
				}
			}
			if recs, err := cat.List(ctx); err == nil {
				for _, r := range recs {
					if r.IndexedAt != nil && r.IndexedAt.After(info.LastIndexed) {
						info.LastIndexed = *r.IndexedAt
					}
				}
			}
			_ = cat.Close()
		}
	}

	info.CatalogSize = fileSize(catalogPath) + fileSize(catalogPath+"-wal")
	info.IndexSize = dirSize(filepath.Join(cfg.Paths.WorkingDir, "retriever"))
	info.ChatSize = fileSize(cfg.ResolvedChatDBPath())
	info.TotalSize = info.CatalogSize + info.IndexSize + info.ChatSize

	for _, mc := range []provider.ModelConfig{
		cfg.Providers.Embedding,
		cfg.Providers.LLM,
		cfg.Providers.Vision,
		cfg.Providers.Reranker,
	} {
		info.Providers = append(info.Providers, providerLine(mc))
	}

	return info
}

func providerLine(mc provider.ModelConfig) ui.ProviderLine {
	line := ui.ProviderLine{
		Kind:    mc.Kind,
		Backend: mc.Backend,
		Model:   mc.Model,
	}
	switch {
	case !mc.IsConfigured():
		line.State = "unbound"
	case mc.IsRemote() && mc.APIKey == "":
		line.State = "no_key"
	default:
		line.State = "ready"
	}
	return line
}

// fileSize returns a file's size, or 0 when it doesn't exist.
func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// dirSize sums file sizes under root. Missing directories count as zero.
func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}
