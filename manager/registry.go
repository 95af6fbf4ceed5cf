package manager

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// Registry hands out one Manager per workspace root. The host owns it and
// disposes it on shutdown.
type Registry struct {
	mu       sync.Mutex
	opts     []Option
	managers map[string]*Manager
}

// NewRegistry applies opts to every manager it creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:     opts,
		managers: make(map[string]*Manager),
	}
}

func canonicalRoot(workspacePath string) (string, error) {
	abs, err := filepath.Abs(workspacePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	return filepath.Clean(abs), nil
}

// GetOrCreate returns the manager for workspacePath, creating it on first use.
func (r *Registry) GetOrCreate(workspacePath string) (*Manager, error) {
	root, err := canonicalRoot(workspacePath)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[root]; ok {
		return m, nil
	}
	m := New(root, r.opts...)
	r.managers[root] = m
	return m, nil
}

func (r *Registry) Get(workspacePath string) (*Manager, bool) {
	root, err := canonicalRoot(workspacePath)
	if err != nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[root]
	return m, ok
}

// Roots lists the registered workspaces in sorted order.
func (r *Registry) Roots() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	roots := make([]string, 0, len(r.managers))
	for root := range r.managers {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// DisposeAll disposes every manager and empties the registry.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*Manager)
	r.mu.Unlock()

	for _, m := range managers {
		m.Dispose()
	}
}
