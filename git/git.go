// Package git answers the few repository questions workspace setup needs.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const commandTimeout = 5 * time.Second

// Repo describes the repository containing a path.
type Repo struct {
	Root         string // git rev-parse --show-toplevel
	MainWorktree string // root of the main worktree; equals Root outside linked worktrees
}

// IsLinkedWorktree reports whether Root is a secondary worktree.
func (r *Repo) IsLinkedWorktree() bool {
	return filepath.Clean(r.Root) != filepath.Clean(r.MainWorktree)
}

func revParse(path string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", path, "rev-parse"}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("not a git repository: %w (stderr: %s)", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("failed to execute git (is git installed?): %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Open inspects the repository containing path.
func Open(path string) (*Repo, error) {
	root, err := revParse(path, "--show-toplevel")
	if err != nil {
		return nil, err
	}

	commonDir, err := revParse(path, "--git-common-dir")
	if err != nil {
		return nil, fmt.Errorf("failed to get git common directory: %w", err)
	}
	// A relative common dir is relative to the -C directory, not the toplevel.
	if !filepath.IsAbs(commonDir) {
		base, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		commonDir = filepath.Join(base, commonDir)
	}
	if resolved, err := filepath.EvalSymlinks(commonDir); err == nil {
		commonDir = resolved
	}

	// The common dir is <main>/.git for the main worktree and every linked one.
	main := filepath.Dir(filepath.Clean(commonDir))
	if filepath.Base(commonDir) != ".git" {
		main = filepath.Dir(filepath.Dir(commonDir))
	}

	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return &Repo{Root: root, MainWorktree: main}, nil
}

// IsRepo returns true if path is inside a git repository.
func IsRepo(path string) bool {
	_, err := revParse(path, "--git-dir")
	return err == nil
}
