// Package daemon runs `codeindex watch` detached from the terminal.
//
// A background watcher is identified by the set of workspace roots it serves.
// Each identity owns three files in the log directory:
//
//	codeindex-<id>.pid    process ID, written under an exclusive lock
//	codeindex-<id>.log    stdout and stderr of the child
//	codeindex-<id>.ready  present once every workspace finished its first pass
//
// Platform-specific process handling lives in daemon_unix.go and daemon_windows.go.
package daemon

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yoanbernabeu/codeindex/internal/fileutil"
)

const (
	filePrefix = "codeindex-"

	// EnvBackground is set in the environment of a spawned child.
	EnvBackground = "CODEINDEX_BACKGROUND"

	stopPollInterval = 250 * time.Millisecond
)

// DefaultLogDir returns the OS-specific directory for watcher logs and PID files:
//   - Linux:   $XDG_STATE_HOME/codeindex/logs or ~/.local/state/codeindex/logs
//   - macOS:   ~/Library/Logs/codeindex
//   - Windows: %LOCALAPPDATA%\codeindex\logs
//
// The directory may not exist yet.
func DefaultLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Logs", "codeindex"), nil
	case "windows":
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, "codeindex", "logs"), nil
		}
		return filepath.Join(homeDir, "AppData", "Local", "codeindex", "logs"), nil
	default:
		if base := os.Getenv("XDG_STATE_HOME"); base != "" {
			return filepath.Join(base, "codeindex", "logs"), nil
		}
		return filepath.Join(homeDir, ".local", "state", "codeindex", "logs"), nil
	}
}

// IsBackgroundChild reports whether the current process was started by Spawn.
func IsBackgroundChild() bool {
	return os.Getenv(EnvBackground) == "1"
}

// Handle locates the files of one background watcher.
type Handle struct {
	dir string
	id  string
}

// For returns the handle of the watcher serving roots. The order of roots
// does not matter.
func For(logDir string, roots ...string) Handle {
	clean := make([]string, len(roots))
	for i, r := range roots {
		clean[i] = filepath.ToSlash(filepath.Clean(r))
	}
	sort.Strings(clean)
	sum := sha256.Sum256([]byte(strings.Join(clean, "\n")))
	return Handle{dir: logDir, id: hex.EncodeToString(sum[:])[:12]}
}

func (h Handle) Dir() string       { return h.dir }
func (h Handle) ID() string        { return h.id }
func (h Handle) PIDPath() string   { return filepath.Join(h.dir, filePrefix+h.id+".pid") }
func (h Handle) LogPath() string   { return filepath.Join(h.dir, filePrefix+h.id+".log") }
func (h Handle) ReadyPath() string { return filepath.Join(h.dir, filePrefix+h.id+".ready") }

// Acquire records the current process as the watcher for h. The PID file lock
// is held until release is called or the process exits, so a second watcher
// for the same roots fails fast.
func (h Handle) Acquire() (release func(), err error) {
	pidPath := h.PIDPath()
	unlock, err := fileutil.TryLock(pidPath)
	if errors.Is(err, fileutil.ErrLocked) {
		return nil, fmt.Errorf("another codeindex watcher holds %s", pidPath)
	}
	if err != nil {
		return nil, err
	}

	pid := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := fileutil.WriteFileAtomic(pidPath, pid, 0600); err != nil {
		unlock()
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}

	return func() {
		_ = h.Remove()
		unlock()
	}, nil
}

// ReadPID returns 0 with a nil error when no PID file exists. It does not
// check whether the process is alive; see RunningPID.
func (h Handle) ReadPID() (int, error) {
	data, err := os.ReadFile(h.PIDPath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// RunningPID returns the PID of a live watcher, or 0. Stale files are removed.
func (h Handle) RunningPID() (int, error) {
	pid, err := h.ReadPID()
	if err != nil || pid == 0 {
		return 0, err
	}
	if !IsProcessRunning(pid) {
		_ = h.Remove()
		return 0, nil
	}
	return pid, nil
}

// Remove deletes the PID, lock and ready files.
func (h Handle) Remove() error {
	_ = os.Remove(h.PIDPath() + ".lock")
	_ = os.Remove(h.ReadyPath())
	if err := os.Remove(h.PIDPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// MarkReady signals a waiting parent that startup succeeded.
func (h Handle) MarkReady() error {
	content := fmt.Sprintf("ready\n%d\n", os.Getpid())
	if err := os.WriteFile(h.ReadyPath(), []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write ready file: %w", err)
	}
	return nil
}

func (h Handle) Ready() bool {
	_, err := os.Stat(h.ReadyPath())
	return err == nil
}

// Spawn re-executes the current binary with args, detached, with output
// appended to LogPath. The returned channel is closed when the child exits.
func (h Handle) Spawn(args []string) (int, <-chan struct{}, error) {
	if err := os.MkdirAll(h.dir, 0755); err != nil {
		return 0, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	_ = os.Remove(h.ReadyPath())

	executable, err := os.Executable()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	logFile, err := os.OpenFile(h.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), EnvBackground+"=1")
	cmd.SysProcAttr = detachedProcAttr()

	if err := cmd.Start(); err != nil {
		return 0, nil, fmt.Errorf("failed to start background process: %w", err)
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	return cmd.Process.Pid, exited, nil
}

// WaitReady blocks until the child marks itself ready, exits, or timeout elapses.
func (h Handle) WaitReady(exited <-chan struct{}, timeout time.Duration) error {
	deadline := time.After(timeout)
	tick := time.NewTicker(stopPollInterval)
	defer tick.Stop()

	for {
		if h.Ready() {
			return nil
		}
		select {
		case <-exited:
			if h.Ready() {
				return nil
			}
			return fmt.Errorf("background watcher exited during startup, see %s", h.LogPath())
		case <-deadline:
			return fmt.Errorf("background watcher not ready after %v, see %s", timeout, h.LogPath())
		case <-tick.C:
		}
	}
}

// Stop asks the running watcher to shut down and waits up to timeout for it
// to exit. It returns false when no watcher was running.
func (h Handle) Stop(timeout time.Duration) (bool, error) {
	pid, err := h.RunningPID()
	if err != nil || pid == 0 {
		return false, err
	}

	if err := stopProcess(h.dir, pid); err != nil {
		return false, fmt.Errorf("failed to stop process: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for IsProcessRunning(pid) {
		if time.Now().After(deadline) {
			return false, fmt.Errorf("process %d did not stop within %v, check %s", pid, timeout, h.LogPath())
		}
		time.Sleep(stopPollInterval)
	}

	if err := h.Remove(); err != nil {
		return true, err
	}
	return true, nil
}
