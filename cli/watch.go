package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/codeindex/config"
	"github.com/yoanbernabeu/codeindex/daemon"
	"github.com/yoanbernabeu/codeindex/manager"
	"golang.org/x/sync/errgroup"
)

const (
	configPollInterval = 2 * time.Second
	startupTimeout     = 5 * time.Minute
	shutdownTimeout    = 30 * time.Second
)

var (
	watchBackground bool
	watchLogDir     string
	watchStatus     bool
	watchStop       bool
	watchNoUI       bool
)

// Swapped in tests.
var (
	watchIsInteractiveTerminal = isInteractiveTerminal
	watchForegroundRunner      = runWatchForeground
)

var watchCmd = &cobra.Command{
	Use:   "watch [path...]",
	Short: "Index workspaces and keep them in sync with the file system",
	Long: `Index one or more workspaces and follow file changes.

For each workspace the watcher will:
- Attach a file system watcher, then scan when the collection is new
- Skip files whose content hash is unchanged
- Re-embed created and changed files after a debounce delay
- Remove the points of deleted files
- Reload .codeindex/config.yaml when it changes

Without arguments the nearest initialized workspace is used.

Background mode:
  codeindex watch --background      Run detached, logging to the log directory
  codeindex watch --status          Show whether a background watcher is running
  codeindex watch --stop            Stop the background watcher`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchBackground, "background", false, "Run in background mode")
	watchCmd.Flags().StringVar(&watchLogDir, "log-dir", "", "Directory for log and PID files (default: OS-specific)")
	watchCmd.Flags().BoolVar(&watchStatus, "status", false, "Show background watcher status")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "Stop the background watcher")
	watchCmd.Flags().BoolVar(&watchNoUI, "no-ui", false, "Print plain log lines instead of the interactive UI")
	watchCmd.MarkFlagsMutuallyExclusive("background", "status", "stop")
	rootCmd.AddCommand(watchCmd)
}

func isInteractiveTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// shouldUseWatchUI reports whether the foreground watcher renders the live UI.
func shouldUseWatchUI(interactive, noUI bool) bool {
	return interactive && !noUI && !daemon.IsBackgroundChild()
}

func runWatch(cmd *cobra.Command, args []string) error {
	roots, err := resolveRoots(args)
	if err != nil {
		return err
	}

	logDir := watchLogDir
	if logDir == "" {
		logDir, err = daemon.DefaultLogDir()
		if err != nil {
			return fmt.Errorf("failed to get default log directory: %w", err)
		}
	}
	handle := daemon.For(logDir, roots...)

	switch {
	case watchStatus:
		return showWatchStatus(handle, roots)
	case watchStop:
		stopped, err := handle.Stop(shutdownTimeout)
		if err != nil {
			return err
		}
		if !stopped {
			fmt.Println("No background watcher is running")
			return nil
		}
		fmt.Println("Background watcher stopped")
		return nil
	case watchBackground:
		return startBackgroundWatch(handle, roots)
	}

	pid, err := handle.RunningPID()
	if err != nil {
		return fmt.Errorf("failed to check running status: %w", err)
	}
	if pid > 0 {
		return fmt.Errorf("watcher is already running in background (PID %d)\nUse 'codeindex watch --stop' to stop it", pid)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return watchForegroundRunner(ctx, handle, roots, shouldUseWatchUI(watchIsInteractiveTerminal(), watchNoUI))
}

func showWatchStatus(h daemon.Handle, roots []string) error {
	pid, err := h.RunningPID()
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	fmt.Printf("Workspaces: %s\n", strings.Join(roots, ", "))
	if pid == 0 {
		fmt.Println("Status: not running")
		fmt.Printf("Log directory: %s\n", h.Dir())
		return nil
	}
	fmt.Println("Status: running")
	fmt.Printf("PID: %d\n", pid)
	fmt.Printf("Ready: %t\n", h.Ready())
	fmt.Printf("Log file: %s\n", h.LogPath())
	return nil
}

func startBackgroundWatch(h daemon.Handle, roots []string) error {
	pid, err := h.RunningPID()
	if err != nil {
		return fmt.Errorf("failed to check running status: %w", err)
	}
	if pid > 0 {
		return fmt.Errorf("watcher is already running in background (PID %d)", pid)
	}

	args := append([]string{"watch", "--no-ui", "--log-dir", h.Dir()}, roots...)
	pid, exited, err := h.Spawn(args)
	if err != nil {
		return err
	}

	fmt.Printf("Starting background watcher (PID %d)...\n", pid)
	if err := h.WaitReady(exited, startupTimeout); err != nil {
		return err
	}
	fmt.Println("Background watcher ready")
	fmt.Printf("Logs: %s\n", h.LogPath())
	fmt.Println("Stop with: codeindex watch --stop")
	return nil
}

// runWatchForeground indexes roots and follows changes until interrupted.
func runWatchForeground(ctx context.Context, h daemon.Handle, roots []string, useUI bool) error {
	release, err := h.Acquire()
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-daemon.StopChannel(h.Dir()):
			cancel()
		case <-ctx.Done():
		}
	}()

	registry := manager.NewRegistry()
	defer registry.DisposeAll()

	managers := make([]*manager.Manager, 0, len(roots))
	for _, root := range roots {
		m, err := openWorkspace(ctx, registry, root)
		if err != nil {
			return err
		}
		managers = append(managers, m)
	}

	if useUI {
		return runWatchUI(ctx, cancel, h, managers)
	}
	return runWatchPlain(ctx, h, managers)
}

// startAll starts every workspace concurrently. The first failure cancels
// the scans still running and is returned.
func startAll(ctx context.Context, managers []*manager.Manager) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range managers {
		g.Go(func() error {
			if err := m.StartIndexing(gctx); err != nil {
				return fmt.Errorf("%s: %w", m.Root(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func runWatchPlain(ctx context.Context, h daemon.Handle, managers []*manager.Manager) error {
	for _, m := range managers {
		events, cancelEvents := m.Subscribe()
		defer cancelEvents()
		files, cancelFiles := m.SubscribeFiles()
		defer cancelFiles()

		root := m.Root()
		go func() {
			for ev := range events {
				log.Printf("[%s] %s: %s", root, ev.State, ev.Message)
			}
		}()
		go func() {
			for st := range files {
				switch {
				case st.Err != nil:
					log.Printf("[%s] Failed to index %s: %v", root, st.Path, st.Err)
				case st.Reason != "":
					log.Printf("[%s] %s %s (%s)", root, st.Status, st.Path, st.Reason)
				default:
					log.Printf("[%s] %s %s", root, st.Status, st.Path)
				}
			}
		}()
	}

	if err := startAll(ctx, managers); err != nil {
		return err
	}
	if err := h.MarkReady(); err != nil {
		log.Printf("Warning: %v", err)
	}
	log.Printf("Watching %d workspace(s), press Ctrl+C to stop", len(managers))

	watchConfigChanges(ctx, managers, configPollInterval)
	log.Println("Shutting down watcher")
	return nil
}

func runWatchUI(ctx context.Context, cancel context.CancelFunc, h daemon.Handle, managers []*manager.Manager) error {
	// Log lines would corrupt the screen; send them to the watcher log instead.
	if logFile, err := tea.LogToFile(h.LogPath(), "codeindex"); err == nil {
		defer logFile.Close()
	}

	roots := make([]string, len(managers))
	for i, m := range managers {
		roots[i] = m.Root()
	}
	model := newWatchModel(roots, cancel)
	program := tea.NewProgram(model, tea.WithContext(ctx))

	for _, m := range managers {
		events, cancelEvents := m.Subscribe()
		defer cancelEvents()
		files, cancelFiles := m.SubscribeFiles()
		defer cancelFiles()

		root := m.Root()
		go func() {
			for ev := range events {
				program.Send(progressMsg{root: root, event: ev})
			}
		}()
		go func() {
			for st := range files {
				program.Send(fileMsg{root: root, status: st})
			}
		}()
	}

	go func() {
		err := startAll(ctx, managers)
		program.Send(startedMsg{err: err})
		if err != nil {
			return
		}
		if err := h.MarkReady(); err != nil {
			log.Printf("Warning: %v", err)
		}
		watchConfigChanges(ctx, managers, configPollInterval)
	}()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("watch UI failed: %w", err)
	}
	cancel()
	return model.err
}

// watchConfigChanges polls each workspace configuration and reloads it on
// change. A reload that requires a restart starts indexing again.
func watchConfigChanges(ctx context.Context, managers []*manager.Manager, interval time.Duration) {
	modTimes := make(map[string]time.Time, len(managers))
	for _, m := range managers {
		modTimes[m.Root()] = configModTime(m.Root())
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, m := range managers {
			mt := configModTime(m.Root())
			if mt.Equal(modTimes[m.Root()]) {
				continue
			}
			modTimes[m.Root()] = mt
			reloadWorkspace(ctx, m)
		}
	}
}

func reloadWorkspace(ctx context.Context, m *manager.Manager) {
	log.Printf("Configuration changed for %s, reloading", m.Root())
	restart, err := m.LoadConfiguration(ctx)
	if err != nil {
		log.Printf("Failed to reload configuration for %s: %v", m.Root(), err)
		return
	}
	if !restart {
		return
	}
	if err := m.StartIndexing(ctx); err != nil && !errors.Is(err, manager.ErrNotConfigured) {
		log.Printf("Failed to restart indexing for %s: %v", m.Root(), err)
	}
}

func configModTime(root string) time.Time {
	info, err := os.Stat(config.GetConfigPath(root))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
