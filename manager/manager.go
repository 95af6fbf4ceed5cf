// Package manager owns the indexing lifecycle of one workspace: configuration,
// the cold-start scan, the incremental watcher and search.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/yoanbernabeu/codeindex/cache"
	"github.com/yoanbernabeu/codeindex/config"
	"github.com/yoanbernabeu/codeindex/embedder"
	"github.com/yoanbernabeu/codeindex/indexer"
	"github.com/yoanbernabeu/codeindex/store"
	"github.com/yoanbernabeu/codeindex/watcher"
)

type State string

const (
	StateStandby  State = "standby"
	StateIndexing State = "indexing"
	StateIndexed  State = "indexed"
	StateError    State = "error"
)

var (
	ErrNotConfigured   = errors.New("workspace is not configured for indexing")
	ErrNotInitialized  = errors.New("embedder or vector store not initialized")
	ErrEmptyEmbedding  = errors.New("embedding provider returned an empty query vector")
	ErrAlreadyIndexing = errors.New("indexing already in progress")
)

const (
	defaultQueryCacheSize = 256
	defaultSearchLimit    = 10
	subscriberBuffer      = 64
)

// Status is a snapshot of the manager state.
type Status struct {
	Root         string
	State        State
	Message      string
	IndexedFiles int
	Watching     bool
}

// ProgressEvent is published on every state change and scan progress step.
// FileStatuses holds the latest watcher outcome per path for the current run.
type ProgressEvent struct {
	State        State
	Message      string
	FileStatuses map[string]watcher.Status
}

type (
	EmbedderFactory func(cfg *config.Config) (embedder.Embedder, error)
	StoreFactory    func(ctx context.Context, cfg *config.Config, root string) (store.VectorStore, error)
	SourceFactory   func(ctx context.Context, root string, ignore *indexer.IgnoreMatcher) (watcher.EventSource, error)
)

type Option func(*Manager)

func WithEmbedderFactory(f EmbedderFactory) Option {
	return func(m *Manager) { m.newEmbedder = f }
}

func WithStoreFactory(f StoreFactory) Option {
	return func(m *Manager) { m.newStore = f }
}

// WithSourceFactory replaces the fsnotify event source, mostly for tests.
func WithSourceFactory(f SourceFactory) Option {
	return func(m *Manager) { m.newSource = f }
}

func WithQueryCacheSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queryCacheSize = n
		}
	}
}

// Manager is safe for concurrent use. Obtain one per workspace from a Registry.
type Manager struct {
	root string

	newEmbedder    EmbedderFactory
	newStore       StoreFactory
	newSource      SourceFactory
	queryCacheSize int

	mu        sync.Mutex
	cfg       *config.Config
	state     State
	message   string
	emb       embedder.Embedder
	st        store.VectorStore
	hc        *cache.HashCache
	parser    *indexer.Parser
	filter    *indexer.IgnoreMatcher
	watch     *watcher.Incremental
	stopWatch context.CancelFunc

	queries *lru.Cache[string, []float32]

	nextSub      int
	subs         map[int]chan ProgressEvent
	fileSubs     map[int]chan watcher.FileStatus
	fileStatuses map[string]watcher.Status
}

func New(root string, opts ...Option) *Manager {
	m := &Manager{
		root:           root,
		newEmbedder:    embedder.NewFromConfig,
		newStore:       store.NewFromConfig,
		newSource:      newFSSource,
		queryCacheSize: defaultQueryCacheSize,
		state:          StateStandby,
		message:        "not configured",
		subs:           make(map[int]chan ProgressEvent),
		fileSubs:       make(map[int]chan watcher.FileStatus),
		fileStatuses:   make(map[string]watcher.Status),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.queries, _ = lru.New[string, []float32](m.queryCacheSize)
	return m
}

func newFSSource(ctx context.Context, root string, ignore *indexer.IgnoreMatcher) (watcher.EventSource, error) {
	src, err := watcher.NewFSSource(root, ignore)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := src.Start(ctx); err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("failed to start file watcher: %w", err)
	}
	return src, nil
}

func (m *Manager) Root() string {
	return m.root
}

// Config returns the last successfully loaded configuration, or nil.
func (m *Manager) Config() *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Root: m.root, State: m.state, Message: m.message, Watching: m.watch != nil}
	if m.hc != nil {
		st.IndexedFiles = m.hc.Len()
	}
	return st
}

// LoadConfiguration reads the workspace configuration and builds the
// dependencies when it is ready. restartRequired tells the caller to run
// StartIndexing again. A workspace that is not ready ends in Standby.
func (m *Manager) LoadConfiguration(ctx context.Context) (restartRequired bool, err error) {
	cfg, err := config.Load(m.root)
	if err != nil {
		m.teardown()
		m.mu.Lock()
		m.cfg = nil
		m.mu.Unlock()

		if errors.Is(err, os.ErrNotExist) {
			m.setState(StateStandby, "no configuration found, run 'codeindex init'")
			return false, nil
		}
		m.setState(StateStandby, err.Error())
		return false, err
	}

	if err := cfg.Validate(); err != nil {
		m.teardown()
		m.mu.Lock()
		m.cfg = cfg
		m.mu.Unlock()
		m.setState(StateStandby, err.Error())
		return false, nil
	}

	m.mu.Lock()
	prev := m.cfg
	m.cfg = cfg
	haveDeps := m.emb != nil && m.st != nil
	m.mu.Unlock()

	restart := cfg.RequiresRestart(prev)
	if !restart && haveDeps {
		// Chunk bounds and ignore rules apply from the next run.
		return false, m.refreshLocalDeps(cfg)
	}

	m.teardown()
	if err := m.buildDeps(ctx, cfg); err != nil {
		m.setState(StateError, err.Error())
		return restart, err
	}
	m.setState(StateStandby, "configuration loaded")
	return restart, nil
}

func (m *Manager) buildDeps(ctx context.Context, cfg *config.Config) error {
	emb, err := m.newEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	st, err := m.newStore(ctx, cfg, m.root)
	if err != nil {
		_ = emb.Close()
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}

	hc := cache.NewHashCache(cfg.GetCachePath(m.root))
	hc.Load()

	m.mu.Lock()
	m.emb = emb
	m.st = st
	m.hc = hc
	m.queries.Purge()
	m.mu.Unlock()

	return m.refreshLocalDeps(cfg)
}

// refreshLocalDeps rebuilds the parser and ignore matcher from cfg.
func (m *Manager) refreshLocalDeps(cfg *config.Config) error {
	filter, err := indexer.NewIgnoreMatcher(m.root, cfg.Ignore, cfg.ExternalGitignore)
	if err != nil {
		return fmt.Errorf("failed to load ignore rules: %w", err)
	}
	parser := indexer.NewParser(indexer.WithBlockLines(cfg.Chunking.MinBlockLines, cfg.Chunking.MaxBlockLines))

	m.mu.Lock()
	m.filter = filter
	m.parser = parser
	m.mu.Unlock()
	return nil
}

// deps is a consistent view of the dependencies for one operation.
type deps struct {
	cfg    *config.Config
	emb    embedder.Embedder
	st     store.VectorStore
	hc     *cache.HashCache
	parser *indexer.Parser
	filter *indexer.IgnoreMatcher
}

// beginRun moves to Indexing and returns the dependencies to use.
func (m *Manager) beginRun(message string) (deps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateIndexing {
		log.Printf("Indexing already in progress for %s", m.root)
		return deps{}, ErrAlreadyIndexing
	}
	if !m.cfg.IsReady() || m.emb == nil || m.st == nil {
		log.Printf("Warning: %s is not configured for indexing: %s", m.root, m.message)
		return deps{}, ErrNotConfigured
	}

	m.fileStatuses = make(map[string]watcher.Status)
	m.transitionLocked(StateIndexing, message)
	return deps{cfg: m.cfg, emb: m.emb, st: m.st, hc: m.hc, parser: m.parser, filter: m.filter}, nil
}

// StartIndexing attaches the watcher and, when the collection is new, runs
// the full scan. The watcher starts before the scan so no edit is missed.
func (m *Manager) StartIndexing(ctx context.Context) error {
	d, err := m.beginRun("checking collection")
	if err != nil {
		return err
	}

	exists, err := d.st.CollectionExists(ctx)
	if err != nil {
		return m.fail(fmt.Errorf("failed to check collection: %w", err))
	}

	if exists {
		if err := m.startWatcher(ctx, d); err != nil {
			return m.fail(err)
		}
		m.setState(StateIndexed, "watching for changes")
		return nil
	}

	if err := m.createCollection(ctx, d); err != nil {
		return m.fail(err)
	}
	if err := m.startWatcher(ctx, d); err != nil {
		return m.fail(err)
	}

	res, err := m.runScan(ctx, d)
	if err != nil {
		return m.fail(err)
	}
	m.setState(StateIndexed, summarize(res))
	return nil
}

// Rescan runs the full scan without attaching a watcher. Unchanged files are
// skipped through the hash cache.
func (m *Manager) Rescan(ctx context.Context) (*indexer.ScanResult, error) {
	d, err := m.beginRun("checking collection")
	if err != nil {
		return nil, err
	}

	exists, err := d.st.CollectionExists(ctx)
	if err != nil {
		return nil, m.fail(fmt.Errorf("failed to check collection: %w", err))
	}
	if !exists {
		if err := m.createCollection(ctx, d); err != nil {
			return nil, m.fail(err)
		}
	}

	res, err := m.runScan(ctx, d)
	if err != nil {
		return nil, m.fail(err)
	}
	m.setState(StateIndexed, summarize(res))
	return res, nil
}

// createCollection initializes the store and drops the hash cache, since a
// new collection holds none of the points the cache refers to.
func (m *Manager) createCollection(ctx context.Context, d deps) error {
	if _, err := d.st.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize collection: %w", err)
	}
	if err := d.hc.Clear(); err != nil {
		return err
	}
	return nil
}

func (m *Manager) runScan(ctx context.Context, d deps) (*indexer.ScanResult, error) {
	m.progress("scanning workspace")

	var blocks int
	scanner := indexer.NewScanner(d.parser, d.emb, d.st, d.hc, d.filter,
		indexer.WithBatchSize(d.cfg.Scan.BatchSize),
		indexer.WithMaxFileSize(d.cfg.Scan.MaxFileSize),
		indexer.WithRetries(d.cfg.Scan.MaxRetries, time.Duration(d.cfg.Scan.RetryBaseDelayMs)*time.Millisecond),
		indexer.WithOnError(func(err error) {
			m.progress(fmt.Sprintf("error: %v", err))
		}),
		indexer.WithOnBlocksIndexed(func(n int) {
			blocks += n
			m.progress(fmt.Sprintf("indexed %d blocks", blocks))
		}),
	)

	res, err := scanner.Scan(ctx, m.root)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	return res, nil
}

func (m *Manager) startWatcher(ctx context.Context, d deps) error {
	m.stopWatcherOnly()

	// The watcher outlives the call that started it; StopWatcher ends it.
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	src, err := m.newSource(watchCtx, m.root, d.filter)
	if err != nil {
		cancel()
		return err
	}

	w := watcher.NewIncremental(src, d.parser, d.emb, d.st, d.hc, d.filter,
		watcher.WithDebounce(time.Duration(d.cfg.Watch.DebounceMs)*time.Millisecond),
		watcher.WithMaxFileSize(d.cfg.Scan.MaxFileSize),
		watcher.WithOnFinish(m.publishFile),
	)
	w.Start(watchCtx)

	m.mu.Lock()
	m.watch = w
	m.stopWatch = cancel
	m.mu.Unlock()
	return nil
}

// StopWatcher detaches the watcher. The state becomes Standby unless it is Error.
func (m *Manager) StopWatcher() {
	m.stopWatcherOnly()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateError {
		m.transitionLocked(StateStandby, "watcher stopped")
	}
}

func (m *Manager) stopWatcherOnly() {
	m.mu.Lock()
	w, cancel := m.watch, m.stopWatch
	m.watch, m.stopWatch = nil, nil
	m.mu.Unlock()

	if w != nil {
		if err := w.Close(); err != nil {
			log.Printf("Warning: failed to close watcher for %s: %v", m.root, err)
		}
	}
	if cancel != nil {
		cancel()
	}
}

// Watching reports whether an incremental watcher is attached.
func (m *Manager) Watching() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watch != nil
}

// ClearIndexData stops the watcher, empties the collection and deletes the
// hash cache. Any failure leaves the manager in Error.
func (m *Manager) ClearIndexData(ctx context.Context) error {
	m.stopWatcherOnly()

	m.mu.Lock()
	st, hc := m.st, m.hc
	m.mu.Unlock()
	if st == nil || hc == nil {
		return ErrNotInitialized
	}

	if err := st.ClearCollection(ctx); err != nil {
		return m.fail(fmt.Errorf("failed to clear collection: %w", err))
	}
	if err := hc.Clear(); err != nil {
		return m.fail(fmt.Errorf("failed to clear hash cache: %w", err))
	}

	m.mu.Lock()
	m.queries.Purge()
	m.mu.Unlock()

	m.setState(StateStandby, "index data cleared")
	return nil
}

// Search embeds query once and returns the closest blocks. Query vectors are
// memoized until the configuration or the index changes.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	m.mu.Lock()
	emb, st := m.emb, m.st
	m.mu.Unlock()
	if emb == nil || st == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	vector, ok := m.queries.Get(query)
	if !ok {
		resp, err := emb.CreateEmbeddings(ctx, []string{query})
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
		if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
			return nil, ErrEmptyEmbedding
		}
		vector = resp.Embeddings[0]
		m.queries.Add(query, vector)
	}

	results, err := st.Search(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return results, nil
}

// Dispose stops the watcher, releases the dependencies and closes every subscription.
func (m *Manager) Dispose() {
	m.teardown()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	for id, ch := range m.fileSubs {
		close(ch)
		delete(m.fileSubs, id)
	}
}

// teardown stops the watcher and closes embedder and store.
func (m *Manager) teardown() {
	m.stopWatcherOnly()

	m.mu.Lock()
	emb, st := m.emb, m.st
	m.emb, m.st, m.hc = nil, nil, nil
	m.queries.Purge()
	m.mu.Unlock()

	if emb != nil {
		if err := emb.Close(); err != nil {
			log.Printf("Warning: failed to close embedder: %v", err)
		}
	}
	if st != nil {
		if err := st.Close(); err != nil {
			log.Printf("Warning: failed to close vector store: %v", err)
		}
	}
}

// fail tears the watcher down, records err and returns it.
func (m *Manager) fail(err error) error {
	log.Printf("Failed to index %s: %v", m.root, err)
	m.stopWatcherOnly()
	m.setState(StateError, err.Error())
	return err
}

func summarize(res *indexer.ScanResult) string {
	return fmt.Sprintf("indexed %d blocks (%d files processed, %d unchanged, %d removed)",
		res.BlocksIndexed, res.Stats.Processed, res.Stats.Skipped, res.FilesRemoved)
}
