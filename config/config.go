package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ConfigDir      = ".codeindex"
	ConfigFileName = "config.yaml"
	IndexFileName  = "index.gob"
	IgnoreFileName = ".codeindexignore"
)

const (
	DefaultMinBlockLines    = 3
	DefaultMaxBlockLines    = 100
	DefaultDebounceMs       = 500
	DefaultBatchSize        = 20
	DefaultMaxFileSize      = 1 << 20
	DefaultMaxRetries       = 3
	DefaultRetryBaseDelayMs = 500
	DefaultQdrantPort       = 6334
)

type Config struct {
	Version           int            `yaml:"version"`
	Enabled           bool           `yaml:"enabled"`
	Embedder          EmbedderConfig `yaml:"embedder"`
	Store             StoreConfig    `yaml:"store"`
	Chunking          ChunkingConfig `yaml:"chunking"`
	Watch             WatchConfig    `yaml:"watch"`
	Scan              ScanConfig     `yaml:"scan"`
	CacheDir          string         `yaml:"cache_dir,omitempty"`
	Ignore            []string       `yaml:"ignore"`
	ExternalGitignore string         `yaml:"external_gitignore,omitempty"`
}

type EmbedderConfig struct {
	Provider          string  `yaml:"provider"` // openai | openrouter | ollama
	Model             string  `yaml:"model"`
	Endpoint          string  `yaml:"endpoint,omitempty"`
	APIKey            string  `yaml:"api_key,omitempty"`
	Dimensions        *int    `yaml:"dimensions,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // 0 disables rate limiting
}

// GetDimensions returns the configured dimensions or the provider's default model size.
func (e *EmbedderConfig) GetDimensions() int {
	if e.Dimensions != nil {
		return *e.Dimensions
	}
	switch e.Provider {
	case "openai", "openrouter":
		return 1536
	default:
		return 768
	}
}

// ResolvedAPIKey returns the configured key, falling back to the provider's environment variable.
func (e *EmbedderConfig) ResolvedAPIKey() string {
	if e.APIKey != "" {
		return e.APIKey
	}
	switch e.Provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	}
	return ""
}

type StoreConfig struct {
	Backend  string         `yaml:"backend"` // qdrant | postgres | gob
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
	Qdrant   QdrantConfig   `yaml:"qdrant,omitempty"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type QdrantConfig struct {
	Endpoint   string `yaml:"endpoint"`             // e.g. "localhost"
	Port       int    `yaml:"port,omitempty"`       // gRPC port, 6334 by default
	Collection string `yaml:"collection,omitempty"` // derived from the workspace path when empty
	APIKey     string `yaml:"api_key,omitempty"`
	UseTLS     bool   `yaml:"use_tls,omitempty"`
}

type ChunkingConfig struct {
	MinBlockLines int `yaml:"min_block_lines"`
	MaxBlockLines int `yaml:"max_block_lines"`
}

type WatchConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
}

type ScanConfig struct {
	BatchSize        int   `yaml:"batch_size"`
	MaxFileSize      int64 `yaml:"max_file_size"`
	MaxRetries       int   `yaml:"max_retries"`
	RetryBaseDelayMs int   `yaml:"retry_base_delay_ms"`
}

func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Enabled: true,
		Embedder: EmbedderConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
			Endpoint: "https://api.openai.com/v1",
		},
		Store: StoreConfig{
			Backend: "qdrant",
			Qdrant: QdrantConfig{
				Endpoint: "localhost",
				Port:     DefaultQdrantPort,
			},
		},
		Chunking: ChunkingConfig{
			MinBlockLines: DefaultMinBlockLines,
			MaxBlockLines: DefaultMaxBlockLines,
		},
		Watch: WatchConfig{
			DebounceMs: DefaultDebounceMs,
		},
		Scan: ScanConfig{
			BatchSize:        DefaultBatchSize,
			MaxFileSize:      DefaultMaxFileSize,
			MaxRetries:       DefaultMaxRetries,
			RetryBaseDelayMs: DefaultRetryBaseDelayMs,
		},
		Ignore: []string{
			".git",
			ConfigDir,
			"node_modules",
			"vendor",
			"bin",
			"dist",
			"build",
			"__pycache__",
			".venv",
			"venv",
			".idea",
			".vscode",
			"target",
			"qdrant_storage",
		},
	}
}

func GetConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, ConfigDir)
}

func GetConfigPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), ConfigFileName)
}

func GetIndexPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), IndexFileName)
}

// GetCachePath returns the hash cache location for a workspace. The file name is
// derived from the absolute root so that several workspaces can share one cache dir.
func (c *Config) GetCachePath(projectRoot string) string {
	base := c.CacheDir
	if base == "" {
		userCache, err := os.UserCacheDir()
		if err != nil {
			userCache = os.TempDir()
		}
		base = filepath.Join(userCache, "codeindex")
	}
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	sum := sha256.Sum256([]byte(filepath.ToSlash(filepath.Clean(abs))))
	return filepath.Join(base, "cache-"+hex.EncodeToString(sum[:])[:16]+".json")
}

func Load(projectRoot string) (*Config, error) {
	configPath := GetConfigPath(projectRoot)

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills values older or hand-written config files leave out.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Embedder.Endpoint == "" {
		switch c.Embedder.Provider {
		case "ollama":
			c.Embedder.Endpoint = "http://localhost:11434"
		case "openrouter":
			c.Embedder.Endpoint = "https://openrouter.ai/api/v1"
		case "openai":
			c.Embedder.Endpoint = "https://api.openai.com/v1"
		}
	}

	if c.Embedder.Dimensions == nil && c.Embedder.Provider == "ollama" {
		dim := 768 // nomic-embed-text
		c.Embedder.Dimensions = &dim
	}

	if c.Chunking.MinBlockLines <= 0 {
		c.Chunking.MinBlockLines = defaults.Chunking.MinBlockLines
	}
	if c.Chunking.MaxBlockLines <= 0 {
		c.Chunking.MaxBlockLines = defaults.Chunking.MaxBlockLines
	}
	if c.Chunking.MaxBlockLines < c.Chunking.MinBlockLines {
		c.Chunking.MaxBlockLines = c.Chunking.MinBlockLines
	}

	if c.Watch.DebounceMs <= 0 {
		c.Watch.DebounceMs = defaults.Watch.DebounceMs
	}

	if c.Scan.BatchSize <= 0 {
		c.Scan.BatchSize = defaults.Scan.BatchSize
	}
	if c.Scan.MaxFileSize <= 0 {
		c.Scan.MaxFileSize = defaults.Scan.MaxFileSize
	}
	if c.Scan.MaxRetries <= 0 {
		c.Scan.MaxRetries = defaults.Scan.MaxRetries
	}
	if c.Scan.RetryBaseDelayMs <= 0 {
		c.Scan.RetryBaseDelayMs = defaults.Scan.RetryBaseDelayMs
	}

	if c.Store.Backend == "qdrant" && c.Store.Qdrant.Port <= 0 {
		c.Store.Qdrant.Port = DefaultQdrantPort
	}
}

// Validate reports why the workspace cannot be indexed, or nil when it can.
func (c *Config) Validate() error {
	if !c.Enabled {
		return fmt.Errorf("indexing is disabled for this workspace")
	}

	switch c.Embedder.Provider {
	case "openai", "openrouter":
		if c.Embedder.ResolvedAPIKey() == "" {
			return fmt.Errorf("embedder %q requires an API key", c.Embedder.Provider)
		}
	case "ollama":
	case "":
		return fmt.Errorf("no embedder provider configured")
	default:
		return fmt.Errorf("unknown embedder provider: %s", c.Embedder.Provider)
	}
	if c.Embedder.Model == "" {
		return fmt.Errorf("no embedder model configured")
	}
	if c.Embedder.Endpoint == "" {
		return fmt.Errorf("no embedder endpoint configured")
	}

	switch c.Store.Backend {
	case "qdrant":
		if c.Store.Qdrant.Endpoint == "" {
			return fmt.Errorf("no qdrant endpoint configured")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("no postgres dsn configured")
		}
	case "gob":
	case "":
		return fmt.Errorf("no vector store backend configured")
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	return nil
}

// IsReady reports whether the configuration is complete enough to start indexing.
func (c *Config) IsReady() bool {
	return c != nil && c.Validate() == nil
}

// RequiresRestart compares a newly loaded configuration against the previous one.
// A restart is needed when the workspace becomes ready, or when a ready workspace
// changes a setting that invalidates existing vectors or the store connection.
func (c *Config) RequiresRestart(prev *Config) bool {
	if !c.IsReady() {
		return false
	}
	if !prev.IsReady() {
		return true
	}
	return c.criticalKey() != prev.criticalKey()
}

func (c *Config) criticalKey() string {
	e := c.Embedder
	s := c.Store
	return strings.Join([]string{
		e.Provider, e.Model, e.Endpoint, e.ResolvedAPIKey(), fmt.Sprint(e.GetDimensions()),
		s.Backend, s.Postgres.DSN,
		s.Qdrant.Endpoint, fmt.Sprint(s.Qdrant.Port), s.Qdrant.Collection, s.Qdrant.APIKey, fmt.Sprint(s.Qdrant.UseTLS),
	}, "\x00")
}

func (c *Config) Save(projectRoot string) error {
	configDir := GetConfigDir(projectRoot)

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configPath := GetConfigPath(projectRoot)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func Exists(projectRoot string) bool {
	_, err := os.Stat(GetConfigPath(projectRoot))
	return err == nil
}

// FindProjectRoot walks up from the working directory to the nearest directory
// holding a .codeindex config.
func FindProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	cwd, err = filepath.EvalSymlinks(cwd)
	if err != nil {
		return "", fmt.Errorf("failed to resolve symlinks: %w", err)
	}

	dir := cwd
	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("no codeindex workspace found (run 'codeindex init' first)")
}

// EnsureGitignoreEntry appends entry to dir/.gitignore unless an equivalent line exists.
func EnsureGitignoreEntry(dir, entry string) error {
	gitignorePath := filepath.Join(dir, ".gitignore")
	content, err := os.ReadFile(gitignorePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read .gitignore: %w", err)
	}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == entry || line == strings.TrimSuffix(entry, "/") {
			return nil
		}
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open .gitignore: %w", err)
	}
	defer f.Close()

	if len(content) > 0 && content[len(content)-1] != '\n' {
		entry = "\n" + entry
	}
	if _, err := f.WriteString(entry + "\n"); err != nil {
		return fmt.Errorf("failed to update .gitignore: %w", err)
	}
	return nil
}
