package manager

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegistry_GetOrCreateReusesManagers(t *testing.T) {
	r := NewRegistry()
	root := t.TempDir()

	a, err := r.GetOrCreate(root)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	b, err := r.GetOrCreate(filepath.Join(root, "sub", ".."))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if a != b {
		t.Error("expected the same manager for equivalent paths")
	}

	other, err := r.GetOrCreate(t.TempDir())
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if other == a {
		t.Error("expected a distinct manager per workspace")
	}

	if got := len(r.Roots()); got != 2 {
		t.Errorf("expected 2 roots, got %d", got)
	}
}

func TestRegistry_RelativePaths(t *testing.T) {
	root := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(root); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(wd) }()

	r := NewRegistry()
	m, err := r.GetOrCreate(".")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if !filepath.IsAbs(m.Root()) {
		t.Errorf("expected absolute root, got %s", m.Root())
	}
	if _, ok := r.Get(m.Root()); !ok {
		t.Error("expected lookup by absolute path to succeed")
	}
}

func TestRegistry_DisposeAll(t *testing.T) {
	r := NewRegistry()
	m, err := r.GetOrCreate(t.TempDir())
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	events, _ := m.Subscribe()

	r.DisposeAll()

	if len(r.Roots()) != 0 {
		t.Error("expected registry to be empty after DisposeAll")
	}
	if _, ok := <-events; ok {
		t.Error("expected subscriptions to be closed on dispose")
	}
}
