package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/yoanbernabeu/codeindex/cache"
	"github.com/yoanbernabeu/codeindex/config"
	"github.com/yoanbernabeu/codeindex/embedder"
	"github.com/yoanbernabeu/codeindex/indexer"
	"github.com/yoanbernabeu/codeindex/store"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Skip reasons reported in FileStatus.Reason.
const (
	ReasonNoDependencies = "dependencies not initialized"
	ReasonUnchanged      = "unchanged"
	ReasonIgnored        = "ignored"
	ReasonTooLarge       = "exceeds size limit"
	ReasonNotIndexed     = "not indexed"
	ReasonEmpty          = "empty file"
)

// FileStatus is the outcome of one processing pass over a file.
type FileStatus struct {
	Path   string
	Status Status
	Reason string
	Err    error
}

type Option func(*Incremental)

func WithDebounce(d time.Duration) Option {
	return func(w *Incremental) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

func WithMaxFileSize(n int64) Option {
	return func(w *Incremental) {
		if n > 0 {
			w.maxFileSize = n
		}
	}
}

// WithOnStart is called when a debounced pass begins for a path.
func WithOnStart(fn func(path string)) Option {
	return func(w *Incremental) { w.onStart = fn }
}

// WithOnFinish is called exactly once per pass.
func WithOnFinish(fn func(FileStatus)) Option {
	return func(w *Incremental) { w.onFinish = fn }
}

// Incremental keeps the index in step with single-file changes. Events are
// debounced per path and then processed one at a time on a worker goroutine.
type Incremental struct {
	source  EventSource
	parser  *indexer.Parser
	indexer *indexer.Indexer
	cache   *cache.HashCache
	filter  indexer.PathFilter

	debounce    time.Duration
	maxFileSize int64
	onStart     func(string)
	onFinish    func(FileStatus)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	latest  map[string]EventType
	gens    map[string]uint64
	closed  bool
	started bool

	work chan FileEvent
	done chan struct{}
	wg   sync.WaitGroup
}

func NewIncremental(source EventSource, parser *indexer.Parser, emb embedder.Embedder, st store.VectorStore, hc *cache.HashCache, filter indexer.PathFilter, opts ...Option) *Incremental {
	w := &Incremental{
		source:      source,
		parser:      parser,
		indexer:     indexer.NewIndexer(st, emb),
		cache:       hc,
		filter:      filter,
		debounce:    time.Duration(config.DefaultDebounceMs) * time.Millisecond,
		maxFileSize: config.DefaultMaxFileSize,
		timers:      make(map[string]*time.Timer),
		latest:      make(map[string]EventType),
		gens:        make(map[string]uint64),
		work:        make(chan FileEvent, 256),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start consumes the event source and runs the worker until Close or ctx ends.
func (w *Incremental) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started || w.closed {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()

	if w.source == nil {
		return
	}
	go func() {
		for ev := range w.source.Events() {
			w.Handle(ev)
		}
	}()
}

// Handle schedules a pass for ev.Path once the path has been quiet for the
// debounce interval. The last event type seen in a burst wins.
func (w *Incremental) Handle(ev FileEvent) {
	if !w.indexer.Ready() {
		w.start(ev.Path)
		w.finish(FileStatus{Path: ev.Path, Status: StatusSkipped, Reason: ReasonNoDependencies})
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	w.gens[ev.Path]++
	gen := w.gens[ev.Path]
	w.latest[ev.Path] = ev.Type

	if t, ok := w.timers[ev.Path]; ok {
		t.Stop()
	}
	w.timers[ev.Path] = time.AfterFunc(w.debounce, func() { w.fire(ev.Path, gen) })
}

// fire hands a settled path to the worker unless a newer event superseded it.
func (w *Incremental) fire(path string, gen uint64) {
	w.mu.Lock()
	if w.closed || w.gens[path] != gen {
		w.mu.Unlock()
		return
	}
	evType := w.latest[path]
	delete(w.latest, path)
	delete(w.timers, path)
	delete(w.gens, path)
	w.mu.Unlock()

	select {
	case w.work <- FileEvent{Type: evType, Path: path}:
	case <-w.done:
	}
}

// Close stops timers and the source. A pass already running completes first.
func (w *Incremental) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	close(w.done)

	var err error
	if w.source != nil {
		err = w.source.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Incremental) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev := <-w.work:
			w.process(ctx, ev)
		}
	}
}

func (w *Incremental) process(ctx context.Context, ev FileEvent) {
	w.start(ev.Path)
	w.finish(w.apply(ctx, ev))
}

func (w *Incremental) apply(ctx context.Context, ev FileEvent) FileStatus {
	path := ev.Path
	_, cached := w.cache.Get(path)

	if w.filter != nil && len(w.filter.FilterPaths([]string{path})) == 0 {
		if cached {
			return w.remove(ctx, path, ReasonIgnored)
		}
		return FileStatus{Path: path, Status: StatusSkipped, Reason: ReasonIgnored}
	}

	if ev.Type == EventDelete {
		return w.remove(ctx, path, "")
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return w.remove(ctx, path, "")
	}
	if err != nil {
		return errorStatus(path, fmt.Errorf("failed to stat %s: %w", path, err))
	}
	if info.IsDir() {
		return FileStatus{Path: path, Status: StatusSkipped, Reason: ReasonIgnored}
	}
	if info.Size() > w.maxFileSize {
		return w.remove(ctx, path, ReasonTooLarge)
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return w.remove(ctx, path, "")
	}
	if err != nil {
		return errorStatus(path, fmt.Errorf("failed to read %s: %w", path, err))
	}

	hash := cache.HashContent(content)
	if prev, ok := w.cache.Get(path); ok && prev == hash {
		return FileStatus{Path: path, Status: StatusSkipped, Reason: ReasonUnchanged}
	}

	if len(content) == 0 {
		if cached {
			if err := w.indexer.RemoveFile(ctx, path); err != nil {
				return errorStatus(path, err)
			}
		}
		w.cache.Set(path, hash)
		w.persist()
		return FileStatus{Path: path, Status: StatusSkipped, Reason: ReasonEmpty}
	}

	blocks, err := w.parser.Parse(ctx, path, content, hash)
	if err != nil {
		return errorStatus(path, err)
	}

	var replace []string
	if cached || ev.Type == EventChange {
		replace = []string{path}
	}
	if _, err := w.indexer.IndexBlocks(ctx, blocks, replace); err != nil {
		return errorStatus(path, err)
	}

	w.cache.Set(path, hash)
	w.persist()
	return FileStatus{Path: path, Status: StatusSuccess}
}

// remove drops a file's points when it was indexed. reason explains a removal
// that was not caused by a delete event.
func (w *Incremental) remove(ctx context.Context, path, reason string) FileStatus {
	if _, ok := w.cache.Get(path); !ok {
		if reason == "" {
			reason = ReasonNotIndexed
		}
		return FileStatus{Path: path, Status: StatusSkipped, Reason: reason}
	}

	if err := w.indexer.RemoveFile(ctx, path); err != nil {
		return errorStatus(path, err)
	}
	w.cache.Delete(path)
	w.persist()
	return FileStatus{Path: path, Status: StatusSuccess, Reason: reason}
}

func (w *Incremental) persist() {
	if err := w.cache.Persist(); err != nil {
		log.Printf("Warning: failed to persist hash cache: %v", err)
	}
}

func (w *Incremental) start(path string) {
	if w.onStart != nil {
		w.onStart(path)
	}
}

func (w *Incremental) finish(status FileStatus) {
	if status.Status == StatusError {
		log.Printf("Failed to index %s: %v", status.Path, status.Err)
	}
	if w.onFinish != nil {
		w.onFinish(status)
	}
}

func errorStatus(path string, err error) FileStatus {
	return FileStatus{Path: path, Status: StatusError, Err: err}
}
