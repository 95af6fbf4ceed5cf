package cli

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/codeindex/config"
	"github.com/yoanbernabeu/codeindex/git"
)

var (
	initProvider       string
	initModel          string
	initBackend        string
	initNonInteractive bool
	initInherit        bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize codeindex in the current directory",
	Long: `Initialize codeindex by creating a .codeindex directory with configuration.

This command will:
- Create .codeindex/config.yaml with default settings
- Prompt for embedding provider (Ollama, OpenAI or OpenRouter)
- Prompt for storage backend (Qdrant, PostgreSQL or a local GOB file)
- Add .codeindex/ to .gitignore inside git repositories

Inside a linked git worktree, the configuration of the main worktree can be
reused with --inherit.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initProvider, "provider", "p", "", "Embedding provider (ollama, openai, or openrouter)")
	initCmd.Flags().StringVarP(&initModel, "model", "m", "", "Embedding model (defaults to the provider's recommended model)")
	initCmd.Flags().StringVarP(&initBackend, "backend", "b", "", "Storage backend (qdrant, postgres, or gob)")
	initCmd.Flags().BoolVar(&initNonInteractive, "yes", false, "Use defaults without prompting")
	initCmd.Flags().BoolVar(&initInherit, "inherit", false, "Inherit configuration from the main worktree (for git worktrees)")
}

// applyProvider sets the endpoint and model defaults of provider on cfg.
// An explicit model overrides the default.
func applyProvider(cfg *config.Config, provider, model string) error {
	switch provider {
	case "ollama":
		cfg.Embedder.Endpoint = "http://localhost:11434"
		cfg.Embedder.Model = "nomic-embed-text"
	case "openai":
		cfg.Embedder.Endpoint = "https://api.openai.com/v1"
		cfg.Embedder.Model = "text-embedding-3-small"
	case "openrouter":
		cfg.Embedder.Endpoint = "https://openrouter.ai/api/v1"
		cfg.Embedder.Model = "openai/text-embedding-3-small"
	default:
		return fmt.Errorf("unknown embedding provider: %s", provider)
	}
	cfg.Embedder.Provider = provider
	// Leave Dimensions nil so the provider's native size is used.
	cfg.Embedder.Dimensions = nil
	if model != "" {
		cfg.Embedder.Model = model
	}
	return nil
}

func applyBackend(cfg *config.Config, backend string) error {
	switch backend {
	case "qdrant", "postgres", "gob":
		cfg.Store.Backend = backend
		return nil
	default:
		return fmt.Errorf("unknown storage backend: %s", backend)
	}
}

type prompter struct {
	reader *bufio.Reader
}

func (p prompter) ask(question, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", question, def)
	} else {
		fmt.Printf("%s: ", question)
	}
	input, _ := p.reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

func (p prompter) confirm(question string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	answer := strings.ToLower(p.ask(question+" ("+hint+")", ""))
	if answer == "" {
		return def
	}
	return answer == "y" || answer == "yes"
}

func promptProvider(p prompter, cfg *config.Config) error {
	fmt.Println("\nSelect embedding provider:")
	fmt.Println("  1) ollama (local, privacy-first, requires Ollama running)")
	fmt.Println("  2) openai (cloud, requires OPENAI_API_KEY)")
	fmt.Println("  3) openrouter (cloud, multi-provider gateway, requires OPENROUTER_API_KEY)")

	switch p.ask("Choice", "1") {
	case "2", "openai":
		return applyProvider(cfg, "openai", initModel)
	case "3", "openrouter":
		if err := applyProvider(cfg, "openrouter", initModel); err != nil {
			return err
		}
		if initModel != "" {
			return nil
		}
		fmt.Println("\nSelect OpenRouter embedding model:")
		fmt.Println("  1) openai/text-embedding-3-small (1536 dims, fast, recommended)")
		fmt.Println("  2) openai/text-embedding-3-large (3072 dims, most capable)")
		fmt.Println("  3) qwen/qwen3-embedding-8b (4096 dims, 32K context)")
		switch p.ask("Choice", "1") {
		case "2":
			cfg.Embedder.Model = "openai/text-embedding-3-large"
		case "3":
			cfg.Embedder.Model = "qwen/qwen3-embedding-8b"
		}
		return nil
	default:
		if err := applyProvider(cfg, "ollama", initModel); err != nil {
			return err
		}
		cfg.Embedder.Endpoint = p.ask("Ollama endpoint", cfg.Embedder.Endpoint)
		return nil
	}
}

func promptBackend(p prompter, cfg *config.Config) error {
	fmt.Println("\nSelect storage backend:")
	fmt.Println("  1) qdrant (vector database, run with Docker)")
	fmt.Println("  2) postgres (pgvector, for shared indexes)")
	fmt.Println("  3) gob (local file, no server needed)")

	switch p.ask("Choice", "1") {
	case "2", "postgres":
		cfg.Store.Backend = "postgres"
		cfg.Store.Postgres.DSN = p.ask("PostgreSQL DSN", "postgres://localhost:5432/codeindex")
	case "3", "gob":
		cfg.Store.Backend = "gob"
	default:
		cfg.Store.Backend = "qdrant"
		cfg.Store.Qdrant.Endpoint = p.ask("Qdrant endpoint", "localhost")

		port := p.ask("Qdrant gRPC port", strconv.Itoa(config.DefaultQdrantPort))
		portInt, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port number: %w", err)
		}
		cfg.Store.Qdrant.Port = portInt
		cfg.Store.Qdrant.UseTLS = p.confirm("Use TLS?", false)
		cfg.Store.Qdrant.Collection = p.ask("Collection name (optional, defaults to sanitized project path)", "")
		cfg.Store.Qdrant.APIKey = p.ask("API key (optional, for Qdrant Cloud)", "")
	}
	return nil
}

// inheritedConfig returns the main worktree configuration when cwd is a
// linked worktree and the user accepts it.
func inheritedConfig(p prompter, cwd string) *config.Config {
	repo, err := git.Open(cwd)
	if err != nil || !repo.IsLinkedWorktree() || !config.Exists(repo.MainWorktree) {
		return nil
	}
	mainCfg, err := config.Load(repo.MainWorktree)
	if err != nil {
		fmt.Printf("Warning: could not load main worktree config: %v\n", err)
		return nil
	}

	fmt.Printf("\nGit worktree detected.\n")
	fmt.Printf("  Main worktree: %s\n", repo.MainWorktree)
	fmt.Printf("  Provider:      %s (%s)\n", mainCfg.Embedder.Provider, mainCfg.Embedder.Model)
	fmt.Printf("  Backend:       %s\n", mainCfg.Store.Backend)

	inherit := initInherit
	if !inherit && !initNonInteractive {
		inherit = p.confirm("\nInherit configuration from main worktree?", true)
	}
	if !inherit {
		return nil
	}

	// The collection name is derived from the workspace path unless pinned,
	// so each worktree gets its own collection in a shared store.
	if mainCfg.Store.Backend == "qdrant" && mainCfg.Store.Qdrant.Collection != "" {
		fmt.Println("\nNote: the main worktree pins a Qdrant collection; clearing it so this worktree gets its own.")
		mainCfg.Store.Qdrant.Collection = ""
	}
	mainCfg.CacheDir = ""
	return mainCfg
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	if config.Exists(cwd) {
		fmt.Println("codeindex is already initialized in this directory.")
		fmt.Printf("Configuration: %s\n", config.GetConfigPath(cwd))
		return nil
	}

	p := prompter{reader: bufio.NewReader(os.Stdin)}
	cfg := inheritedConfig(p, cwd)

	if cfg == nil {
		cfg = config.DefaultConfig()

		if initProvider != "" {
			if err := applyProvider(cfg, initProvider, initModel); err != nil {
				return err
			}
		} else if !initNonInteractive {
			if err := promptProvider(p, cfg); err != nil {
				return err
			}
		}

		if initBackend != "" {
			if err := applyBackend(cfg, initBackend); err != nil {
				return err
			}
		} else if !initNonInteractive {
			if err := promptBackend(p, cfg); err != nil {
				return err
			}
		}
	}

	if err := cfg.Save(cwd); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	fmt.Printf("\nCreated configuration at %s\n", config.GetConfigPath(cwd))

	if git.IsRepo(cwd) {
		if err := config.EnsureGitignoreEntry(cwd, config.ConfigDir+"/"); err != nil {
			fmt.Printf("Warning: could not update .gitignore: %v\n", err)
		} else {
			fmt.Printf("Added %s/ to .gitignore\n", config.ConfigDir)
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("\nWarning: configuration is incomplete: %v\n", err)
		fmt.Printf("Edit %s before indexing.\n", config.GetConfigPath(cwd))
	}

	fmt.Println("\ncodeindex initialized successfully!")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Index and follow changes: codeindex watch")
	fmt.Println("  2. Search your code: codeindex search \"your query\"")

	switch cfg.Embedder.Provider {
	case "ollama":
		fmt.Println("\nMake sure Ollama is running with the embedding model:")
		fmt.Printf("  ollama pull %s\n", cfg.Embedder.Model)
	case "openai":
		fmt.Println("\nMake sure OPENAI_API_KEY is set in your environment.")
	case "openrouter":
		fmt.Println("\nMake sure OPENROUTER_API_KEY is set in your environment.")
		fmt.Println("  Get your API key at: https://openrouter.ai/keys")
	}
	switch cfg.Store.Backend {
	case "qdrant":
		fmt.Println("\nStart Qdrant if it is not running:")
		fmt.Println("  docker run -p 6333:6333 -p 6334:6334 qdrant/qdrant")
	case "postgres":
		fmt.Println("\nThe database needs the pgvector extension (CREATE EXTENSION vector).")
	}

	return nil
}
