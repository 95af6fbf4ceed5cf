package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/codeindex/config"
	"github.com/yoanbernabeu/codeindex/manager"
	"github.com/yoanbernabeu/codeindex/mcp"
)

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve [project-path]",
	Short: "Start codeindex as an MCP server",
	Long: `Start codeindex as an MCP (Model Context Protocol) server.

This allows AI agents to use codeindex as a native tool through the MCP protocol.
The server communicates via stdio and exposes the following tools:

  - codeindex_search: Semantic code search with natural language
  - codeindex_status: Indexing state of the workspace
  - codeindex_reindex: Rescan the workspace and index changed files

Arguments:
  project-path  Optional path to the codeindex workspace.
                If not provided, searches for .codeindex from the current directory.

Configuration for Claude Code:
  claude mcp add codeindex -- codeindex mcp-serve

Configuration for Cursor (.cursor/mcp.json):
  {
    "mcpServers": {
      "codeindex": {
        "command": "codeindex",
        "args": ["mcp-serve", "/path/to/your/project"]
      }
    }
  }`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMCPServe,
}

func init() {
	rootCmd.AddCommand(mcpServeCmd)
}

// resolveMCPRoot returns the workspace served over MCP: the explicit path
// when given, otherwise the nearest initialized directory.
func resolveMCPRoot(explicitPath string) (string, error) {
	if explicitPath == "" {
		return config.FindProjectRoot()
	}

	abs, err := filepath.Abs(explicitPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !config.Exists(abs) {
		return "", fmt.Errorf("no codeindex workspace found at %s (run 'codeindex init' first)", abs)
	}
	return abs, nil
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	var explicitPath string
	if len(args) > 0 {
		explicitPath = args[0]
	}

	projectRoot, err := resolveMCPRoot(explicitPath)
	if err != nil {
		return err
	}

	registry := manager.NewRegistry()
	defer registry.DisposeAll()

	srv, err := mcp.NewServer(projectRoot, registry)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	return srv.Serve()
}
