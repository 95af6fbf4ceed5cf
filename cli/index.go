package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/codeindex/manager"
)

var indexQuiet bool

var indexCmd = &cobra.Command{
	Use:   "index [path...]",
	Short: "Scan workspaces once and update the index",
	Long: `Scan one or more workspaces and bring the index up to date, then exit.

Files whose content hash is unchanged are skipped. Files removed since the
last run have their points deleted. Use 'codeindex watch' to keep following
changes afterwards.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVarP(&indexQuiet, "quiet", "q", false, "Only print the final summary")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	roots, err := resolveRoots(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	registry := manager.NewRegistry()
	defer registry.DisposeAll()

	for _, root := range roots {
		if err := indexWorkspace(ctx, registry, root); err != nil {
			return err
		}
	}
	return nil
}

func indexWorkspace(ctx context.Context, registry *manager.Registry, root string) error {
	m, err := openWorkspace(ctx, registry, root)
	if err != nil {
		return err
	}

	if !indexQuiet {
		events, cancel := m.Subscribe()
		defer cancel()
		go func() {
			for ev := range events {
				if ev.State == manager.StateIndexing {
					fmt.Printf("\r\033[K%s", dimStyle.Render(ev.Message))
				}
			}
		}()
	}

	fmt.Printf("Indexing %s\n", headerStyle.Render(root))
	res, err := m.Rescan(ctx)
	if !indexQuiet {
		fmt.Print("\r\033[K")
	}
	if err != nil {
		return fmt.Errorf("indexing %s failed: %w", root, err)
	}

	fmt.Printf("%s %d blocks indexed, %d files processed, %d unchanged, %d removed in %s\n",
		successStyle.Render("✓"), res.BlocksIndexed, res.Stats.Processed, res.Stats.Skipped,
		res.FilesRemoved, res.Duration.Round(time.Millisecond))
	return nil
}
