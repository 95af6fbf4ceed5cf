// Package mcp provides an MCP (Model Context Protocol) server for codeindex.
// This allows AI agents to query the semantic index as a native tool.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/alpkeskin/gotoon"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/yoanbernabeu/codeindex/manager"
)

const defaultLimit = 10

// Server wraps the MCP server with codeindex functionality.
type Server struct {
	mcpServer   *server.MCPServer
	registry    *manager.Registry
	projectRoot string

	loadMu sync.Mutex
	loaded bool
}

// SearchResult is a lightweight struct for MCP output.
type SearchResult struct {
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
	Content   string  `json:"content"`
}

// SearchResultCompact is a minimal struct for compact output (no content field).
type SearchResultCompact struct {
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
}

// IndexStatus represents the current state of the index.
type IndexStatus struct {
	Root         string `json:"root"`
	State        string `json:"state"`
	Message      string `json:"message"`
	IndexedFiles int    `json:"indexed_files"`
	Watching     bool   `json:"watching"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	Backend      string `json:"backend,omitempty"`
}

// encodeOutput encodes data in the specified format (json or toon).
func encodeOutput(data any, format string) (string, error) {
	switch format {
	case "toon":
		return gotoon.Encode(data)
	default: // "json"
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(jsonBytes), nil
	}
}

// NewServer creates an MCP server for the workspace at projectRoot. Managers
// come from registry so a host that already watches the workspace shares its state.
func NewServer(projectRoot string, registry *manager.Registry) (*Server, error) {
	if registry == nil {
		registry = manager.NewRegistry()
	}
	s := &Server{
		registry:    registry,
		projectRoot: projectRoot,
	}

	s.mcpServer = server.NewMCPServer(
		"codeindex",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	s.registerTools()

	return s, nil
}

func (s *Server) registerTools() {
	searchTool := mcp.NewTool("codeindex_search",
		mcp.WithDescription("Semantic code search. Search the indexed workspace using natural language queries. Returns the most relevant code blocks with file paths, line numbers, and similarity scores."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language search query (e.g., 'retry with backoff', 'parse config file')"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return (default: 10)"),
		),
		mcp.WithBoolean("compact",
			mcp.Description("Return minimal output without content (default: false)"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(searchTool, s.handleSearch)

	statusTool := mcp.NewTool("codeindex_status",
		mcp.WithDescription("Report the indexing state of the workspace: standby, indexing, indexed or error, with the number of indexed files."),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(statusTool, s.handleStatus)

	reindexTool := mcp.NewTool("codeindex_reindex",
		mcp.WithDescription("Rescan the workspace and index changed files. Unchanged files are skipped."),
	)
	s.mcpServer.AddTool(reindexTool, s.handleReindex)
}

// workspace returns the manager for the project. The configuration is loaded
// on demand until it is ready, so a failed or missing load is retried by the
// next tool call.
func (s *Server) workspace(ctx context.Context) (*manager.Manager, error) {
	if s.projectRoot == "" {
		return nil, errors.New("no project context; start mcp-serve from an initialized project directory")
	}
	m, err := s.registry.GetOrCreate(s.projectRoot)
	if err != nil {
		return nil, err
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.loaded {
		return m, nil
	}
	if !m.Config().IsReady() {
		if _, err := m.LoadConfiguration(ctx); err != nil {
			return nil, err
		}
	}
	s.loaded = m.Config().IsReady()
	return m, nil
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	limit := request.GetInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	compact := request.GetBool("compact", false)
	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	m, err := s.workspace(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load configuration: %v", err)), nil
	}

	results, err := m.Search(ctx, query, limit)
	if errors.Is(err, manager.ErrNotInitialized) {
		return mcp.NewToolResultError(fmt.Sprintf("index not available: %s", m.Status().Message)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	var data any
	if compact {
		out := make([]SearchResultCompact, len(results))
		for i, r := range results {
			out[i] = SearchResultCompact{
				FilePath:  r.Payload.FilePath,
				StartLine: r.Payload.StartLine,
				EndLine:   r.Payload.EndLine,
				Score:     r.Score,
			}
		}
		data = out
	} else {
		out := make([]SearchResult, len(results))
		for i, r := range results {
			out[i] = SearchResult{
				FilePath:  r.Payload.FilePath,
				StartLine: r.Payload.StartLine,
				EndLine:   r.Payload.EndLine,
				Score:     r.Score,
				Content:   r.Payload.CodeChunk,
			}
		}
		data = out
	}

	output, err := encodeOutput(data, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode results: %v", err)), nil
	}
	return mcp.NewToolResultText(output), nil
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return mcp.NewToolResultError("format must be 'json' or 'toon'"), nil
	}

	m, err := s.workspace(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load configuration: %v", err)), nil
	}

	st := m.Status()
	status := IndexStatus{
		Root:         st.Root,
		State:        string(st.State),
		Message:      st.Message,
		IndexedFiles: st.IndexedFiles,
		Watching:     st.Watching,
	}
	if cfg := m.Config(); cfg != nil {
		status.Provider = cfg.Embedder.Provider
		status.Model = cfg.Embedder.Model
		status.Backend = cfg.Store.Backend
	}

	output, err := encodeOutput(status, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode status: %v", err)), nil
	}
	return mcp.NewToolResultText(output), nil
}

func (s *Server) handleReindex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := s.workspace(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load configuration: %v", err)), nil
	}

	res, err := m.Rescan(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reindex failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Indexed %d blocks: %d files processed, %d unchanged, %d removed",
		res.BlocksIndexed, res.Stats.Processed, res.Stats.Skipped, res.FilesRemoved)), nil
}

// Serve starts the MCP server using stdio transport.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}
