package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/yoanbernabeu/codeindex/config"
	"github.com/yoanbernabeu/codeindex/embedder"
	"github.com/yoanbernabeu/codeindex/manager"
)

type staticEmbedder struct{}

func (staticEmbedder) CreateEmbeddings(ctx context.Context, texts []string) (*embedder.EmbeddingResponse, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.3, 0.6, 0.9}
	}
	return &embedder.EmbeddingResponse{Embeddings: vectors}, nil
}

func (staticEmbedder) Dimensions() int { return 3 }
func (staticEmbedder) Close() error    { return nil }

func writeConfig(t *testing.T, root string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Embedder.Provider = "ollama"
	cfg.Embedder.Endpoint = "http://localhost:11434"
	cfg.Store.Backend = "gob"
	cfg.CacheDir = filepath.Join(root, ".codeindex", "cache")
	if err := cfg.Save(root); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	src := "def handler(event):\n    body = event['body']\n    return body.upper()\n"
	if err := os.WriteFile(filepath.Join(root, "handler.py"), []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestServer(t *testing.T, configured bool) *Server {
	t.Helper()
	root := t.TempDir()

	if configured {
		writeConfig(t, root)
	}

	registry := manager.NewRegistry(manager.WithEmbedderFactory(func(*config.Config) (embedder.Embedder, error) {
		return staticEmbedder{}, nil
	}))
	t.Cleanup(registry.DisposeAll)

	s, err := NewServer(root, registry)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return s
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content in result")
	}
	content, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return content.Text, result.IsError
}

func TestHandleSearch_Validation(t *testing.T) {
	s := newTestServer(t, true)

	tests := []struct {
		name    string
		args    map[string]any
		wantMsg string
	}{
		{name: "missing query", args: map[string]any{}, wantMsg: "query parameter is required"},
		{name: "bad format", args: map[string]any{"query": "x", "format": "xml"}, wantMsg: "format must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := call(t, s.handleSearch, tt.args)
			if !isErr {
				t.Fatal("expected error result")
			}
			if !strings.Contains(text, tt.wantMsg) {
				t.Errorf("expected %q in %q", tt.wantMsg, text)
			}
		})
	}
}

func TestHandleSearch_Unconfigured(t *testing.T) {
	s := newTestServer(t, false)

	text, isErr := call(t, s.handleSearch, map[string]any{"query": "handler"})
	if !isErr {
		t.Fatal("expected error result")
	}
	if !strings.Contains(text, "no configuration found") {
		t.Errorf("unexpected message: %s", text)
	}
}

func TestReindexThenSearch(t *testing.T) {
	s := newTestServer(t, true)

	text, isErr := call(t, s.handleReindex, nil)
	if isErr {
		t.Fatalf("reindex failed: %s", text)
	}
	if !strings.Contains(text, "1 files processed") {
		t.Errorf("unexpected reindex summary: %s", text)
	}

	text, isErr = call(t, s.handleSearch, map[string]any{"query": "uppercase the body", "limit": float64(5)})
	if isErr {
		t.Fatalf("search failed: %s", text)
	}
	var results []SearchResult
	if err := json.Unmarshal([]byte(text), &results); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !strings.HasSuffix(results[0].FilePath, "/handler.py") || results[0].StartLine != 1 {
		t.Errorf("unexpected result %+v", results[0])
	}
	if !strings.Contains(results[0].Content, "def handler") {
		t.Errorf("expected block content, got %q", results[0].Content)
	}

	text, isErr = call(t, s.handleSearch, map[string]any{"query": "uppercase the body", "compact": true})
	if isErr {
		t.Fatalf("compact search failed: %s", text)
	}
	if strings.Contains(text, "content") {
		t.Errorf("compact output should not contain content: %s", text)
	}

	text, isErr = call(t, s.handleSearch, map[string]any{"query": "uppercase the body", "format": "toon"})
	if isErr || text == "" {
		t.Fatalf("toon search failed: %s", text)
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t, true)

	text, isErr := call(t, s.handleStatus, nil)
	if isErr {
		t.Fatalf("status failed: %s", text)
	}
	var status IndexStatus
	if err := json.Unmarshal([]byte(text), &status); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if status.State != string(manager.StateStandby) {
		t.Errorf("expected standby before indexing, got %s", status.State)
	}
	if status.Provider != "ollama" || status.Backend != "gob" {
		t.Errorf("unexpected config in status: %+v", status)
	}

	if _, isErr := call(t, s.handleReindex, nil); isErr {
		t.Fatal("reindex failed")
	}
	text, _ = call(t, s.handleStatus, nil)
	if err := json.Unmarshal([]byte(text), &status); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if status.State != string(manager.StateIndexed) || status.IndexedFiles != 1 {
		t.Errorf("unexpected status after reindex: %+v", status)
	}
}

func TestWorkspace_RetriesAfterFailedLoad(t *testing.T) {
	s := newTestServer(t, false)

	configPath := config.GetConfigPath(s.projectRoot)
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(configPath, []byte("embedder: [unterminated\n"), 0644); err != nil {
		t.Fatal(err)
	}
	text, isErr := call(t, s.handleSearch, map[string]any{"query": "handler"})
	if !isErr || !strings.Contains(text, "failed to load configuration") {
		t.Fatalf("expected load failure, got %q", text)
	}

	writeConfig(t, s.projectRoot)
	text, isErr = call(t, s.handleReindex, nil)
	if isErr {
		t.Fatalf("expected reindex to succeed once the configuration is fixed: %s", text)
	}
	if !strings.Contains(text, "1 files processed") {
		t.Errorf("unexpected reindex summary: %s", text)
	}
}

func TestNoProjectContext(t *testing.T) {
	s, err := NewServer("", nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	text, isErr := call(t, s.handleStatus, nil)
	if !isErr || !strings.Contains(text, "no project context") {
		t.Errorf("expected project context error, got %q", text)
	}
}

func TestEncodeOutput(t *testing.T) {
	data := []SearchResultCompact{{FilePath: "a.go", StartLine: 1, EndLine: 3, Score: 0.5}}

	out, err := encodeOutput(data, "json")
	if err != nil || !strings.Contains(out, `"file_path": "a.go"`) {
		t.Errorf("unexpected json output %q (%v)", out, err)
	}
	out, err = encodeOutput(data, "toon")
	if err != nil || !strings.Contains(out, "a.go") {
		t.Errorf("unexpected toon output %q (%v)", out, err)
	}
}
