//go:build !windows

package daemon

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// IsProcessRunning reports whether pid names a live process. EPERM means the
// process exists but belongs to someone else, which still counts.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// detachedProcAttr starts the watcher in its own process group, so Ctrl+C in
// the launching terminal leaves it alone.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// stopProcess interrupts the watcher. It shuts down through the same
// signal.NotifyContext path as a foreground Ctrl+C.
func stopProcess(_ string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	err := unix.Kill(pid, unix.SIGINT)
	if errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("process %d is not running", pid)
	}
	if err != nil {
		return fmt.Errorf("failed to interrupt process %d: %w", pid, err)
	}
	return nil
}

// StopChannel never fires here; SIGINT is the stop request.
func StopChannel(string) <-chan struct{} {
	return make(chan struct{})
}
