package cli

import (
	"bufio"
	"strings"
	"testing"

	"github.com/yoanbernabeu/codeindex/config"
)

func newPrompter(input string) prompter {
	return prompter{reader: bufio.NewReader(strings.NewReader(input))}
}

func TestApplyProvider(t *testing.T) {
	tests := []struct {
		provider     string
		model        string
		wantModel    string
		wantEndpoint string
	}{
		{provider: "ollama", wantModel: "nomic-embed-text", wantEndpoint: "http://localhost:11434"},
		{provider: "openai", wantModel: "text-embedding-3-small", wantEndpoint: "https://api.openai.com/v1"},
		{provider: "openrouter", model: "qwen/qwen3-embedding-8b", wantModel: "qwen/qwen3-embedding-8b", wantEndpoint: "https://openrouter.ai/api/v1"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := config.DefaultConfig()
			dims := 768
			cfg.Embedder.Dimensions = &dims

			if err := applyProvider(cfg, tt.provider, tt.model); err != nil {
				t.Fatalf("applyProvider failed: %v", err)
			}
			if cfg.Embedder.Provider != tt.provider {
				t.Errorf("provider = %s, want %s", cfg.Embedder.Provider, tt.provider)
			}
			if cfg.Embedder.Model != tt.wantModel {
				t.Errorf("model = %s, want %s", cfg.Embedder.Model, tt.wantModel)
			}
			if cfg.Embedder.Endpoint != tt.wantEndpoint {
				t.Errorf("endpoint = %s, want %s", cfg.Embedder.Endpoint, tt.wantEndpoint)
			}
			if cfg.Embedder.Dimensions != nil {
				t.Error("expected dimensions to be reset")
			}
		})
	}

	if err := applyProvider(config.DefaultConfig(), "cohere", ""); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestApplyBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	for _, backend := range []string{"qdrant", "postgres", "gob"} {
		if err := applyBackend(cfg, backend); err != nil {
			t.Errorf("applyBackend(%s) failed: %v", backend, err)
		}
		if cfg.Store.Backend != backend {
			t.Errorf("backend = %s, want %s", cfg.Store.Backend, backend)
		}
	}
	if err := applyBackend(cfg, "sqlite"); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestPromptBackend_Qdrant(t *testing.T) {
	cfg := config.DefaultConfig()
	p := newPrompter("1\nqdrant.internal\n6334\ny\nmy-code\n\n")

	if err := promptBackend(p, cfg); err != nil {
		t.Fatalf("promptBackend failed: %v", err)
	}
	q := cfg.Store.Qdrant
	if cfg.Store.Backend != "qdrant" || q.Endpoint != "qdrant.internal" || q.Port != 6334 || !q.UseTLS || q.Collection != "my-code" {
		t.Errorf("unexpected qdrant config: %+v", q)
	}
}

func TestPromptBackend_InvalidPort(t *testing.T) {
	p := newPrompter("qdrant\n\nnot-a-port\n")
	if err := promptBackend(p, config.DefaultConfig()); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestPrompterConfirm(t *testing.T) {
	tests := []struct {
		input string
		def   bool
		want  bool
	}{
		{input: "\n", def: true, want: true},
		{input: "\n", def: false, want: false},
		{input: "yes\n", def: false, want: true},
		{input: "N\n", def: true, want: false},
	}
	for _, tt := range tests {
		if got := newPrompter(tt.input).confirm("Continue?", tt.def); got != tt.want {
			t.Errorf("confirm(%q, %v) = %v, want %v", tt.input, tt.def, got, tt.want)
		}
	}
}

func TestInheritedConfig_NotAWorktree(t *testing.T) {
	if cfg := inheritedConfig(newPrompter(""), t.TempDir()); cfg != nil {
		t.Error("expected no inherited config outside a linked worktree")
	}
}
