package daemon

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipIfWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("flock semantics differ on Windows")
	}
}

func TestDefaultLogDir(t *testing.T) {
	if runtime.GOOS == "linux" {
		t.Setenv("XDG_STATE_HOME", "/tmp/state")
	}
	logDir, err := DefaultLogDir()
	if err != nil {
		t.Fatalf("DefaultLogDir() failed: %v", err)
	}
	if !filepath.IsAbs(logDir) {
		t.Errorf("expected absolute path, got %s", logDir)
	}
	if !strings.Contains(logDir, "codeindex") {
		t.Errorf("expected path to contain 'codeindex', got %s", logDir)
	}
	if runtime.GOOS == "linux" && logDir != filepath.Join("/tmp/state", "codeindex", "logs") {
		t.Errorf("XDG_STATE_HOME not honored: %s", logDir)
	}
}

func TestFor_IdentityIgnoresOrder(t *testing.T) {
	dir := t.TempDir()
	a := For(dir, "/src/api", "/src/web")
	b := For(dir, "/src/web/", "/src/api")
	c := For(dir, "/src/api")

	if a.ID() != b.ID() {
		t.Errorf("expected same id for the same roots, got %s and %s", a.ID(), b.ID())
	}
	if a.ID() == c.ID() {
		t.Error("expected different ids for different root sets")
	}
	if filepath.Dir(a.PIDPath()) != dir || !strings.HasSuffix(a.LogPath(), ".log") {
		t.Errorf("unexpected paths %s %s", a.PIDPath(), a.LogPath())
	}
}

func TestAcquireLifecycle(t *testing.T) {
	skipIfWindows(t)
	h := For(t.TempDir(), "/src/api")

	pid, err := h.ReadPID()
	if err != nil || pid != 0 {
		t.Fatalf("expected no PID before Acquire, got %d (%v)", pid, err)
	}

	release, err := h.Acquire()
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	pid, err = h.RunningPID()
	if err != nil {
		t.Fatalf("RunningPID() failed: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("RunningPID() = %d, want %d", pid, os.Getpid())
	}

	if _, err := h.Acquire(); err == nil {
		t.Error("expected second Acquire to fail while the lock is held")
	}

	if err := h.MarkReady(); err != nil {
		t.Fatalf("MarkReady() failed: %v", err)
	}
	if !h.Ready() {
		t.Error("expected ready marker")
	}

	release()

	if pid, _ := h.ReadPID(); pid != 0 {
		t.Errorf("expected PID file removed, got %d", pid)
	}
	if h.Ready() {
		t.Error("expected ready marker removed")
	}
	if _, err := os.Stat(h.PIDPath() + ".lock"); !os.IsNotExist(err) {
		t.Error("expected lock file removed")
	}
}

func TestReadPID_InvalidContent(t *testing.T) {
	h := For(t.TempDir(), "/src/api")
	if err := os.WriteFile(h.PIDPath(), []byte("not-a-pid\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ReadPID(); err == nil {
		t.Error("expected error for invalid PID content")
	}
}

func TestRunningPID_CleansStaleFile(t *testing.T) {
	h := For(t.TempDir(), "/src/api")
	if err := os.WriteFile(h.PIDPath(), []byte("99999999\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if IsProcessRunning(99999999) {
		t.Skip("PID 99999999 is unexpectedly alive")
	}

	pid, err := h.RunningPID()
	if err != nil {
		t.Fatalf("RunningPID() failed: %v", err)
	}
	if pid != 0 {
		t.Errorf("expected 0 for stale PID, got %d", pid)
	}
	if _, err := os.Stat(h.PIDPath()); !os.IsNotExist(err) {
		t.Error("expected stale PID file to be removed")
	}
}

func TestStop_NothingRunning(t *testing.T) {
	h := For(t.TempDir(), "/src/api")
	stopped, err := h.Stop(time.Second)
	if err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if stopped {
		t.Error("expected Stop to report nothing running")
	}
}

func TestWaitReady(t *testing.T) {
	h := For(t.TempDir(), "/src/api")

	exited := make(chan struct{})
	close(exited)
	if err := h.WaitReady(exited, time.Second); err == nil {
		t.Error("expected error when the child exits before becoming ready")
	}

	if err := h.MarkReady(); err != nil {
		t.Fatal(err)
	}
	if err := h.WaitReady(make(chan struct{}), time.Second); err != nil {
		t.Errorf("expected ready, got %v", err)
	}
}

func TestSpawn_ReportsEarlyExit(t *testing.T) {
	h := For(t.TempDir(), "/src/api")

	// The test binary exits at once when no test matches.
	pid, exited, err := h.Spawn([]string{"-test.run=^$"})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if pid <= 0 {
		t.Errorf("expected a child PID, got %d", pid)
	}

	select {
	case <-exited:
	case <-time.After(30 * time.Second):
		t.Fatal("exit was not reported")
	}
	if err := h.WaitReady(exited, time.Second); err == nil {
		t.Error("expected startup error for a child that never became ready")
	}
	if _, err := os.Stat(h.LogPath()); err != nil {
		t.Errorf("expected log file: %v", err)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !IsProcessRunning(os.Getpid()) {
		t.Error("current process should be running")
	}
	if IsProcessRunning(-1) || IsProcessRunning(0) {
		t.Error("non-positive PIDs are never running")
	}
}

func TestIsBackgroundChild(t *testing.T) {
	t.Setenv(EnvBackground, "")
	if IsBackgroundChild() {
		t.Error("expected foreground process")
	}
	t.Setenv(EnvBackground, "1")
	if !IsBackgroundChild() {
		t.Error("expected background child")
	}
}
