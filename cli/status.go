package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/codeindex/config"
	"github.com/yoanbernabeu/codeindex/daemon"
	"github.com/yoanbernabeu/codeindex/embedder"
	"github.com/yoanbernabeu/codeindex/manager"
)

const pingTimeout = 10 * time.Second

var (
	statusJSON  bool
	statusTOON  bool
	statusCheck bool
)

// StatusReport describes one workspace for humans and agents.
type StatusReport struct {
	Root          string `json:"root"`
	State         string `json:"state"`
	Message       string `json:"message"`
	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	Backend       string `json:"backend,omitempty"`
	Dimensions    int    `json:"dimensions,omitempty"`
	IndexedFiles  int    `json:"indexed_files"`
	CachePath     string `json:"cache_path,omitempty"`
	WatcherPID    int    `json:"watcher_pid,omitempty"`
	EmbedderCheck string `json:"embedder_check,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status [path...]",
	Short: "Show configuration and index state of workspaces",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "Output in JSON format")
	statusCmd.Flags().BoolVarP(&statusTOON, "toon", "t", false, "Output in TOON format")
	statusCmd.Flags().BoolVar(&statusCheck, "check", false, "Verify that the embedding provider is reachable")
	statusCmd.MarkFlagsMutuallyExclusive("json", "toon")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	roots, err := resolveRoots(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logDir, _ := daemon.DefaultLogDir()
	registry := manager.NewRegistry()
	defer registry.DisposeAll()

	reports := make([]StatusReport, 0, len(roots))
	for _, root := range roots {
		report, err := workspaceStatus(ctx, registry, root)
		if err != nil {
			return err
		}
		if logDir != "" {
			report.WatcherPID, _ = daemon.For(logDir, root).RunningPID()
		}
		reports = append(reports, report)
	}

	switch {
	case statusJSON:
		return writeJSON(os.Stdout, reports)
	case statusTOON:
		return writeTOON(os.Stdout, reports)
	}
	for _, r := range reports {
		printStatus(r)
	}
	return nil
}

func workspaceStatus(ctx context.Context, registry *manager.Registry, root string) (StatusReport, error) {
	m, err := registry.GetOrCreate(root)
	if err != nil {
		return StatusReport{}, err
	}
	// A broken configuration is reported, not returned.
	_, _ = m.LoadConfiguration(ctx)

	st := m.Status()
	report := StatusReport{
		Root:         st.Root,
		State:        string(st.State),
		Message:      st.Message,
		IndexedFiles: st.IndexedFiles,
	}

	cfg := m.Config()
	if cfg == nil {
		return report, nil
	}
	report.Provider = cfg.Embedder.Provider
	report.Model = cfg.Embedder.Model
	report.Backend = cfg.Store.Backend
	report.Dimensions = cfg.Embedder.GetDimensions()
	report.CachePath = cfg.GetCachePath(root)

	if statusCheck && cfg.IsReady() {
		report.EmbedderCheck = "ok"
		if err := checkEmbedder(ctx, cfg); err != nil {
			report.EmbedderCheck = err.Error()
		}
	}
	return report, nil
}

// checkEmbedder pings the configured provider. Providers without a Ping
// are checked with a one-text embedding request.
func checkEmbedder(ctx context.Context, cfg *config.Config) error {
	emb, err := embedder.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	defer emb.Close()

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if p, ok := emb.(embedder.Pinger); ok {
		return p.Ping(ctx)
	}
	_, err = emb.CreateEmbeddings(ctx, []string{"ping"})
	return err
}

func printStatus(r StatusReport) {
	fmt.Println(headerStyle.Render(r.Root))
	fmt.Printf("  State:         %s (%s)\n", stateStyle(manager.State(r.State)).Render(r.State), r.Message)
	if r.Provider != "" {
		fmt.Printf("  Embedder:      %s / %s (%d dims)\n", r.Provider, r.Model, r.Dimensions)
		fmt.Printf("  Backend:       %s\n", r.Backend)
		fmt.Printf("  Indexed files: %d\n", r.IndexedFiles)
		fmt.Printf("  Hash cache:    %s\n", r.CachePath)
	}
	if r.WatcherPID > 0 {
		fmt.Printf("  Watcher:       running (PID %d)\n", r.WatcherPID)
	} else {
		fmt.Printf("  Watcher:       %s\n", dimStyle.Render("not running in background"))
	}
	switch r.EmbedderCheck {
	case "":
	case "ok":
		fmt.Printf("  Connectivity:  %s\n", successStyle.Render("ok"))
	default:
		fmt.Printf("  Connectivity:  %s\n", errorStyle.Render(r.EmbedderCheck))
	}
	fmt.Println()
}
