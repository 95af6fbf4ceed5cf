package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/codeindex/daemon"
	"github.com/yoanbernabeu/codeindex/manager"
)

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear [path...]",
	Short: "Delete all indexed vectors and the hash cache of workspaces",
	Long: `Delete every point of the workspace collection and remove its hash cache.

The next 'codeindex index' or 'codeindex watch' re-embeds every file.
The configuration is kept.`,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	roots, err := resolveRoots(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if logDir, err := daemon.DefaultLogDir(); err == nil {
		if pid, _ := daemon.For(logDir, roots...).RunningPID(); pid > 0 {
			return fmt.Errorf("a background watcher is running (PID %d), stop it first with 'codeindex watch --stop'", pid)
		}
	}

	if !clearYes {
		p := prompter{reader: bufio.NewReader(os.Stdin)}
		fmt.Println("This deletes the index of:")
		for _, root := range roots {
			fmt.Printf("  %s\n", root)
		}
		if !p.confirm("Continue?", false) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	registry := manager.NewRegistry()
	defer registry.DisposeAll()

	for _, root := range roots {
		m, err := openWorkspace(ctx, registry, root)
		if err != nil {
			return err
		}
		if err := m.ClearIndexData(ctx); err != nil {
			return fmt.Errorf("failed to clear %s: %w", root, err)
		}
		fmt.Printf("%s cleared %s\n", successStyle.Render("✓"), root)
	}
	return nil
}
