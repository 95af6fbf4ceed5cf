//go:build windows

package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

// Exit code reported by GetExitCodeProcess while a process runs.
const stillActive = 259

// IsProcessRunning reports whether pid names a process that has not exited.
// An open handle keeps an exited process queryable, so the exit code decides.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

// detachedProcAttr starts the watcher without a console and outside the
// launching console's Ctrl+C group.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
	}
}

func stopRequestPath(dir string, pid int) string {
	return filepath.Join(dir, filePrefix+"stop-"+strconv.Itoa(pid))
}

// stopProcess drops a stop request next to the PID file. A detached process
// has no console to receive Ctrl+C, so the watcher polls for it instead.
func stopProcess(dir string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	if !IsProcessRunning(pid) {
		return fmt.Errorf("process %d is not running", pid)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := os.WriteFile(stopRequestPath(dir, pid), nil, 0600); err != nil {
		return fmt.Errorf("failed to write stop request: %w", err)
	}
	return nil
}

// StopChannel is closed when a stop request for this process shows up in dir.
// A request left over from an earlier process with the same PID is discarded.
func StopChannel(dir string) <-chan struct{} {
	path := stopRequestPath(dir, os.Getpid())
	_ = os.Remove(path)

	ch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(stopPollInterval)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := os.Stat(path); err == nil {
				_ = os.Remove(path)
				close(ch)
				return
			}
		}
	}()
	return ch
}
