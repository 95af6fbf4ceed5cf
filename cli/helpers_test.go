package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/yoanbernabeu/codeindex/config"
)

// fakeOllama serves /api/embed with one small vector per input.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[]}`))
		case "/api/embed":
			var req struct {
				Input []string `json:"input"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			vectors := make([][]float32, len(req.Input))
			for i, text := range req.Input {
				vectors[i] = []float32{float32(len(text)%7 + 1), 1, 0.5}
			}
			json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newWorkspace writes a gob-backed workspace using the fake Ollama endpoint.
func newWorkspace(t *testing.T, endpoint string, files map[string]string) string {
	t.Helper()
	root := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Embedder.Provider = "ollama"
	cfg.Embedder.Model = "nomic-embed-text"
	cfg.Embedder.Endpoint = endpoint
	cfg.Store.Backend = "gob"
	cfg.CacheDir = filepath.Join(t.TempDir(), "cache")
	if err := cfg.Save(root); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

const goSource = `package calc

func Add(a, b int) int {
	sum := a + b
	return sum
}
`
