package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "out.json")

	if err := WriteFileAtomic(target, []byte("first"), 0644); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := WriteFileAtomic(target, []byte("second"), 0644); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("expected %q, got %q", "second", string(data))
	}

	entries, _ := os.ReadDir(filepath.Dir(target))
	if len(entries) != 1 {
		t.Errorf("expected no temp files left behind, got %d entries", len(entries))
	}
}

func TestLockRelease(t *testing.T) {
	target := filepath.Join(t.TempDir(), "data.gob")

	unlock, err := Lock(target, true)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	unlock()

	// Re-acquiring after release must not block.
	unlock, err = Lock(target, false)
	if err != nil {
		t.Fatalf("second Lock failed: %v", err)
	}
	unlock()

	if _, err := os.Stat(target + ".lock"); err != nil {
		t.Errorf("expected lock file to exist: %v", err)
	}
}

func TestTryLock(t *testing.T) {
	target := filepath.Join(t.TempDir(), "watch.pid")

	release, err := TryLock(target)
	if err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}

	if _, err := TryLock(target); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked while held, got %v", err)
	}

	release()
	release, err = TryLock(target)
	if err != nil {
		t.Fatalf("TryLock after release failed: %v", err)
	}
	release()
}
