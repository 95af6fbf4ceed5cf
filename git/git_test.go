package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func gitRun(t *testing.T, args ...string) {
	t.Helper()
	if out, err := exec.Command("git", args...).CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

func newRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)
	path := t.TempDir()
	gitRun(t, "init", path)
	gitRun(t, "-C", path, "config", "user.email", "dev@example.com")
	gitRun(t, "-C", path, "config", "user.name", "Dev")
	gitRun(t, "-C", path, "commit", "--allow-empty", "-m", "init")
	return path
}

func samePath(t *testing.T, got, want string) bool {
	t.Helper()
	gotInfo, err1 := os.Stat(got)
	wantInfo, err2 := os.Stat(want)
	if err1 != nil || err2 != nil {
		return filepath.Clean(got) == filepath.Clean(want)
	}
	return os.SameFile(gotInfo, wantInfo)
}

func TestOpen_MainRepo(t *testing.T) {
	path := newRepo(t)
	sub := filepath.Join(path, "pkg", "util")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	repo, err := Open(sub)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !samePath(t, repo.Root, path) {
		t.Errorf("Root = %s, want %s", repo.Root, path)
	}
	if !samePath(t, repo.MainWorktree, path) {
		t.Errorf("MainWorktree = %s, want %s", repo.MainWorktree, path)
	}
	if repo.IsLinkedWorktree() {
		t.Error("main repository reported as linked worktree")
	}
}

func TestOpen_LinkedWorktree(t *testing.T) {
	main := newRepo(t)
	linked := filepath.Join(t.TempDir(), "feature")
	gitRun(t, "-C", main, "worktree", "add", "-b", "feature", linked)

	repo, err := Open(linked)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !samePath(t, repo.Root, linked) {
		t.Errorf("Root = %s, want %s", repo.Root, linked)
	}
	if !samePath(t, repo.MainWorktree, main) {
		t.Errorf("MainWorktree = %s, want %s", repo.MainWorktree, main)
	}
	if !repo.IsLinkedWorktree() {
		t.Error("expected linked worktree")
	}
}

func TestOpen_LinkedWorktreeSubdirectory(t *testing.T) {
	main := newRepo(t)
	linked := filepath.Join(t.TempDir(), "feature")
	gitRun(t, "-C", main, "worktree", "add", "-b", "feature", linked)
	sub := filepath.Join(linked, "internal", "api")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	repo, err := Open(sub)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !samePath(t, repo.Root, linked) {
		t.Errorf("Root = %s, want %s", repo.Root, linked)
	}
	if !samePath(t, repo.MainWorktree, main) {
		t.Errorf("MainWorktree = %s, want %s", repo.MainWorktree, main)
	}
}

func TestOpen_NotARepo(t *testing.T) {
	requireGit(t)
	if _, err := Open(t.TempDir()); err == nil {
		t.Error("expected error outside a repository")
	}
}

func TestIsRepo(t *testing.T) {
	path := newRepo(t)
	if !IsRepo(path) {
		t.Error("expected repository to be detected")
	}
	if IsRepo(t.TempDir()) {
		t.Error("expected plain directory not to be a repository")
	}
	if IsRepo(filepath.Join(t.TempDir(), "missing")) {
		t.Error("expected missing path not to be a repository")
	}
}
