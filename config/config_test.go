package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, root, body string) {
	t.Helper()
	if err := os.MkdirAll(GetConfigDir(root), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(GetConfigPath(root), []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
enabled: true
embedder:
  provider: ollama
  model: nomic-embed-text
store:
  backend: qdrant
  qdrant:
    endpoint: localhost
`)

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Embedder.Endpoint != "http://localhost:11434" {
		t.Errorf("expected ollama endpoint default, got %q", cfg.Embedder.Endpoint)
	}
	if cfg.Embedder.GetDimensions() != 768 {
		t.Errorf("expected 768 dimensions, got %d", cfg.Embedder.GetDimensions())
	}
	if cfg.Store.Qdrant.Port != DefaultQdrantPort {
		t.Errorf("expected qdrant port %d, got %d", DefaultQdrantPort, cfg.Store.Qdrant.Port)
	}
	if cfg.Chunking.MinBlockLines != DefaultMinBlockLines || cfg.Chunking.MaxBlockLines != DefaultMaxBlockLines {
		t.Errorf("unexpected chunk bounds: %+v", cfg.Chunking)
	}
	if cfg.Watch.DebounceMs != DefaultDebounceMs {
		t.Errorf("expected debounce %d, got %d", DefaultDebounceMs, cfg.Watch.DebounceMs)
	}
	if cfg.Scan.BatchSize != 20 || cfg.Scan.MaxFileSize != 1<<20 || cfg.Scan.MaxRetries != 3 {
		t.Errorf("unexpected scan defaults: %+v", cfg.Scan)
	}
	if !cfg.IsReady() {
		t.Errorf("expected config to be ready, got %v", cfg.Validate())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Embedder.APIKey = "sk-test"

	if err := cfg.Save(root); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !Exists(root) {
		t.Fatal("expected config to exist after save")
	}

	loaded, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Embedder.APIKey != "sk-test" || loaded.Store.Backend != "qdrant" {
		t.Errorf("unexpected loaded config: %+v", loaded)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "disabled",
			mutate:  func(c *Config) { c.Enabled = false },
			wantErr: "disabled",
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) {},
			wantErr: "API key",
		},
		{
			name: "missing qdrant endpoint",
			mutate: func(c *Config) {
				c.Embedder.APIKey = "k"
				c.Store.Qdrant.Endpoint = ""
			},
			wantErr: "qdrant endpoint",
		},
		{
			name: "missing postgres dsn",
			mutate: func(c *Config) {
				c.Embedder.APIKey = "k"
				c.Store.Backend = "postgres"
			},
			wantErr: "postgres dsn",
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.Embedder.Provider = "nope"
			},
			wantErr: "unknown embedder",
		},
		{
			name:   "ready",
			mutate: func(c *Config) { c.Embedder.APIKey = "k" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	cfg := DefaultConfig()
	cfg.Embedder.Provider = "openrouter"

	if got := cfg.Embedder.ResolvedAPIKey(); got != "or-key" {
		t.Errorf("expected env key, got %q", got)
	}
	if !cfg.IsReady() {
		t.Errorf("expected ready with env key: %v", cfg.Validate())
	}
}

func TestRequiresRestart(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	ready := func() *Config {
		c := DefaultConfig()
		c.Embedder.APIKey = "k"
		return c
	}
	notReady := DefaultConfig()

	tests := []struct {
		name string
		prev *Config
		next *Config
		want bool
	}{
		{"nil to ready", nil, ready(), true},
		{"not ready to ready", notReady, ready(), true},
		{"ready to not ready", ready(), notReady, false},
		{"unchanged", ready(), ready(), false},
		{"debounce change", ready(), func() *Config { c := ready(); c.Watch.DebounceMs = 900; return c }(), false},
		{"chunk bounds change", ready(), func() *Config { c := ready(); c.Chunking.MaxBlockLines = 50; return c }(), false},
		{"model change", ready(), func() *Config { c := ready(); c.Embedder.Model = "text-embedding-3-large"; return c }(), true},
		{"store endpoint change", ready(), func() *Config { c := ready(); c.Store.Qdrant.Endpoint = "qdrant.internal"; return c }(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.next.RequiresRestart(tt.prev); got != tt.want {
				t.Errorf("RequiresRestart() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetCachePath(t *testing.T) {
	cacheDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.CacheDir = cacheDir

	a := cfg.GetCachePath("/work/a")
	b := cfg.GetCachePath("/work/b")

	if a == b {
		t.Fatal("expected distinct cache paths per workspace")
	}
	if filepath.Dir(a) != cacheDir {
		t.Errorf("expected cache under %s, got %s", cacheDir, a)
	}
	if a != cfg.GetCachePath("/work/a/") {
		t.Error("expected cache path to ignore trailing separators")
	}
}

func TestEnsureGitignoreEntry(t *testing.T) {
	t.Run("creates gitignore if missing", func(t *testing.T) {
		dir := t.TempDir()
		if err := EnsureGitignoreEntry(dir, ".codeindex/"); err != nil {
			t.Fatalf("EnsureGitignoreEntry failed: %v", err)
		}

		data, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
		if err != nil {
			t.Fatalf("failed to read .gitignore: %v", err)
		}
		if !strings.Contains(string(data), ".codeindex/") {
			t.Error("expected .codeindex/ in .gitignore")
		}
	})

	t.Run("does not duplicate", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("node_modules\n.codeindex\n"), 0644)

		if err := EnsureGitignoreEntry(dir, ".codeindex/"); err != nil {
			t.Fatalf("EnsureGitignoreEntry failed: %v", err)
		}

		data, _ := os.ReadFile(filepath.Join(dir, ".gitignore"))
		if strings.Count(string(data), ".codeindex") != 1 {
			t.Errorf("expected a single entry, got %q", string(data))
		}
	})

	t.Run("adds newline before entry", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("node_modules"), 0644)

		if err := EnsureGitignoreEntry(dir, ".codeindex/"); err != nil {
			t.Fatalf("EnsureGitignoreEntry failed: %v", err)
		}

		data, _ := os.ReadFile(filepath.Join(dir, ".gitignore"))
		if string(data) != "node_modules\n.codeindex/\n" {
			t.Errorf("unexpected content %q", string(data))
		}
	})
}
