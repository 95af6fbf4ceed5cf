package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alpkeskin/gotoon"
	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/codeindex/manager"
	"github.com/yoanbernabeu/codeindex/store"
)

const previewLines = 15

var (
	searchLimit   int
	searchJSON    bool
	searchTOON    bool
	searchCompact bool
	searchPath    string
)

// SearchResultJSON is the machine-readable form of one hit.
type SearchResultJSON struct {
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
	Content   string  `json:"content"`
}

// SearchResultCompactJSON omits the block content.
type SearchResultCompactJSON struct {
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index with natural language",
	Long: `Search the indexed workspace using natural language queries.

The search will:
- Vectorize your query using the configured embedding provider
- Rank indexed code blocks by cosine similarity
- Return the most relevant results with file path, line numbers, and score`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results to return")
	searchCmd.Flags().BoolVarP(&searchJSON, "json", "j", false, "Output results in JSON format (for AI agents)")
	searchCmd.Flags().BoolVarP(&searchTOON, "toon", "t", false, "Output results in TOON format (token-efficient for AI agents)")
	searchCmd.Flags().BoolVarP(&searchCompact, "compact", "c", false, "Output minimal format without content (requires --json or --toon)")
	searchCmd.Flags().StringVar(&searchPath, "path", "", "Workspace root (default: nearest initialized directory)")
	searchCmd.MarkFlagsMutuallyExclusive("json", "toon")
	rootCmd.AddCommand(searchCmd)
}

func validateSearchFlags() error {
	if searchCompact && !searchJSON && !searchTOON {
		return fmt.Errorf("--compact flag requires --json or --toon flag")
	}
	if searchLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	if err := validateSearchFlags(); err != nil {
		return err
	}
	query := args[0]
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var pathArgs []string
	if searchPath != "" {
		pathArgs = []string{searchPath}
	}
	roots, err := resolveRoots(pathArgs)
	if err != nil {
		return err
	}

	registry := manager.NewRegistry()
	defer registry.DisposeAll()

	results, err := searchWorkspace(ctx, registry, roots[0], query, searchLimit)
	if err != nil {
		switch {
		case searchJSON:
			return writeJSON(os.Stdout, map[string]string{"error": err.Error()})
		case searchTOON:
			return writeTOON(os.Stdout, map[string]string{"error": err.Error()})
		}
		return err
	}

	out := os.Stdout
	switch {
	case searchJSON:
		return writeJSON(out, searchPayload(results, searchCompact))
	case searchTOON:
		return writeTOON(out, searchPayload(results, searchCompact))
	}
	printResults(out, query, results)
	return nil
}

func searchWorkspace(ctx context.Context, registry *manager.Registry, root, query string, limit int) ([]store.SearchResult, error) {
	m, err := openWorkspace(ctx, registry, root)
	if err != nil {
		return nil, err
	}
	results, err := m.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return results, nil
}

// searchPayload converts results to the structs used for JSON and TOON output.
func searchPayload(results []store.SearchResult, compact bool) any {
	if compact {
		out := make([]SearchResultCompactJSON, len(results))
		for i, r := range results {
			out[i] = SearchResultCompactJSON{
				FilePath:  r.Payload.FilePath,
				StartLine: r.Payload.StartLine,
				EndLine:   r.Payload.EndLine,
				Score:     r.Score,
			}
		}
		return out
	}

	out := make([]SearchResultJSON, len(results))
	for i, r := range results {
		out[i] = SearchResultJSON{
			FilePath:  r.Payload.FilePath,
			StartLine: r.Payload.StartLine,
			EndLine:   r.Payload.EndLine,
			Score:     r.Score,
			Content:   r.Payload.CodeChunk,
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeTOON(w io.Writer, v any) error {
	output, err := gotoon.Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode TOON: %w", err)
	}
	_, err = fmt.Fprintln(w, output)
	return err
}

func printResults(w io.Writer, query string, results []store.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	fmt.Fprintf(w, "Found %d results for: %q\n\n", len(results), query)
	for i, r := range results {
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("─── Result %d (score: %.4f) ───", i+1, r.Score)))
		fmt.Fprintf(w, "File: %s:%d-%d\n\n", r.Payload.FilePath, r.Payload.StartLine, r.Payload.EndLine)

		lines := strings.Split(strings.TrimRight(r.Payload.CodeChunk, "\n"), "\n")
		for j := 0; j < len(lines) && j < previewLines; j++ {
			fmt.Fprintf(w, "%s %s\n", dimStyle.Render(fmt.Sprintf("%4d │", r.Payload.StartLine+j)), lines[j])
		}
		if len(lines) > previewLines {
			fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("     │ ... (%d more lines)", len(lines)-previewLines)))
		}
		fmt.Fprintln(w)
	}
}
