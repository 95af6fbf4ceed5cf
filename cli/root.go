// Package cli implements the codeindex command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/codeindex/config"
	"github.com/yoanbernabeu/codeindex/manager"
)

// Version is set at build time with -ldflags "-X .../cli.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "codeindex",
	Short: "Incremental semantic code index",
	Long: `codeindex splits source files into code blocks, embeds them and keeps
a vector index in sync with the working tree.

Typical workflow:
  codeindex init               Create .codeindex/config.yaml
  codeindex watch              Index the workspace and follow changes
  codeindex search "query"     Search with natural language`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.AddCommand(initCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// resolveRoots returns absolute workspace roots from positional arguments,
// falling back to the nearest initialized workspace above the working directory.
func resolveRoots(args []string) ([]string, error) {
	if len(args) == 0 {
		root, err := config.FindProjectRoot()
		if err != nil {
			return nil, err
		}
		return []string{root}, nil
	}

	roots := make([]string, 0, len(args))
	seen := make(map[string]bool, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", arg, err)
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", arg)
		}
		if !seen[abs] {
			seen[abs] = true
			roots = append(roots, abs)
		}
	}
	return roots, nil
}

// openWorkspace loads the configuration of root into a manager from registry.
// It fails when the workspace cannot index, reporting the manager's message.
func openWorkspace(ctx context.Context, registry *manager.Registry, root string) (*manager.Manager, error) {
	m, err := registry.GetOrCreate(root)
	if err != nil {
		return nil, err
	}
	if _, err := m.LoadConfiguration(ctx); err != nil {
		return nil, fmt.Errorf("failed to load configuration for %s: %w", root, err)
	}
	if cfg := m.Config(); cfg == nil || !cfg.IsReady() {
		return nil, fmt.Errorf("%s: %s", root, m.Status().Message)
	}
	return m, nil
}
