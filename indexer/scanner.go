package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/yoanbernabeu/codeindex/cache"
	"github.com/yoanbernabeu/codeindex/config"
	"github.com/yoanbernabeu/codeindex/embedder"
	"github.com/yoanbernabeu/codeindex/internal/fileutil"
	"github.com/yoanbernabeu/codeindex/store"
)

// ScanStats counts files parsed versus files left alone (unchanged, empty or too large).
type ScanStats struct {
	Processed int
	Skipped   int
}

type ScanResult struct {
	Blocks        []CodeBlock
	Stats         ScanStats
	BlocksIndexed int
	FilesRemoved  int
	Duration      time.Duration
}

// dirSkipper lets the walk prune whole directories instead of filtering their files later.
type dirSkipper interface {
	ShouldSkipDir(relPath string) bool
}

type ScannerOption func(*Scanner)

func WithBatchSize(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithMaxFileSize(n int64) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

func WithRetries(maxAttempts int, baseDelay time.Duration) ScannerOption {
	return func(s *Scanner) {
		if maxAttempts > 0 {
			s.maxRetries = maxAttempts
		}
		if baseDelay >= 0 {
			s.retryBase = baseDelay
		}
	}
}

// WithOnError receives batch, file and deletion errors. The scan keeps going.
func WithOnError(fn func(error)) ScannerOption {
	return func(s *Scanner) { s.onError = fn }
}

// WithOnBlocksIndexed is called after every successful batch with its block count.
func WithOnBlocksIndexed(fn func(int)) ScannerOption {
	return func(s *Scanner) { s.onBlocksIndexed = fn }
}

// WithOnFileParsed is called for every changed file with the number of blocks found.
func WithOnFileParsed(fn func(path string, blocks int)) ScannerOption {
	return func(s *Scanner) { s.onFileParsed = fn }
}

// Scanner performs the full workspace pass: it walks the tree, skips unchanged
// files by content hash, indexes the rest in batches and drops files that
// disappeared since the last pass.
type Scanner struct {
	parser  *Parser
	indexer *Indexer
	store   store.VectorStore
	cache   *cache.HashCache
	filter  PathFilter

	batchSize   int
	maxFileSize int64
	maxRetries  int
	retryBase   time.Duration

	onError         func(error)
	onBlocksIndexed func(int)
	onFileParsed    func(string, int)
}

func NewScanner(parser *Parser, emb embedder.Embedder, st store.VectorStore, hc *cache.HashCache, filter PathFilter, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		parser:      parser,
		indexer:     NewIndexer(st, emb),
		store:       st,
		cache:       hc,
		filter:      filter,
		batchSize:   config.DefaultBatchSize,
		maxFileSize: config.DefaultMaxFileSize,
		maxRetries:  config.DefaultMaxRetries,
		retryBase:   time.Duration(config.DefaultRetryBaseDelayMs) * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// pendingFile is a changed file waiting in the current batch.
type pendingFile struct {
	path   string
	hash   string
	blocks []CodeBlock
}

// Scan indexes root. Only context cancellation and walk failures abort it;
// everything else is reported through the error callback.
func (s *Scanner) Scan(ctx context.Context, root string) (*ScanResult, error) {
	start := time.Now()
	result := &ScanResult{}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	candidates, err := s.collect(absRoot)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	previous := s.cache.Snapshot()
	seen := make(map[string]bool, len(candidates))

	var batch []pendingFile
	pendingBlocks := 0

	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key := fileutil.NormalizePath(path)

		info, err := os.Stat(path)
		if err != nil {
			s.reportError(fmt.Errorf("failed to stat %s: %w", path, err))
			continue
		}
		if info.Size() > s.maxFileSize {
			// Not marked seen: any points from when it was smaller get removed below.
			result.Stats.Skipped++
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			seen[key] = true
			s.reportError(fmt.Errorf("failed to read %s: %w", path, err))
			continue
		}
		seen[key] = true

		hash := cache.HashContent(content)
		if previous[key] == hash {
			result.Stats.Skipped++
			continue
		}
		if len(content) == 0 {
			result.Stats.Skipped++
			s.clearEmpty(ctx, path, hash, previous[key] != "")
			continue
		}

		blocks, err := s.parser.Parse(ctx, path, content, hash)
		if err != nil {
			s.reportError(fmt.Errorf("failed to parse %s: %w", path, err))
			continue
		}

		result.Stats.Processed++
		result.Blocks = append(result.Blocks, blocks...)
		if s.onFileParsed != nil {
			s.onFileParsed(path, len(blocks))
		}

		batch = append(batch, pendingFile{path: path, hash: hash, blocks: blocks})
		pendingBlocks += len(blocks)

		if pendingBlocks >= s.batchSize {
			if err := s.flush(ctx, batch, result); err != nil {
				return nil, err
			}
			batch = nil
			pendingBlocks = 0
		}
	}

	if len(batch) > 0 {
		if err := s.flush(ctx, batch, result); err != nil {
			return nil, err
		}
	}

	s.removeVanished(ctx, previous, seen, result)

	if err := s.cache.Persist(); err != nil {
		s.reportError(err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// collect walks root and returns supported, non-ignored regular files.
func (s *Scanner) collect(root string) ([]string, error) {
	skipper, _ := s.filter.(dirSkipper)

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("Warning: cannot access %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && skipper != nil {
				rel, relErr := filepath.Rel(root, path)
				if relErr == nil && skipper.ShouldSkipDir(rel) {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	if s.filter != nil {
		files = s.filter.FilterPaths(files)
	}

	supported := files[:0]
	for _, f := range files {
		if IsSupported(f) {
			supported = append(supported, f)
		}
	}
	return supported, nil
}

// flush indexes one batch with bounded exponential backoff. Hashes are only
// committed once the batch landed, so failed files are retried on the next scan.
func (s *Scanner) flush(ctx context.Context, batch []pendingFile, result *ScanResult) error {
	var blocks []CodeBlock
	paths := make([]string, 0, len(batch))
	for _, f := range batch {
		blocks = append(blocks, f.blocks...)
		paths = append(paths, f.path)
	}

	var (
		indexed int
		err     error
	)
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryBase * time.Duration(1<<(attempt-1))
			log.Printf("Retrying batch of %d files in %v (attempt %d/%d): %v", len(batch), delay, attempt+1, s.maxRetries, err)
			if waitErr := sleepCtx(ctx, delay); waitErr != nil {
				return waitErr
			}
		}

		indexed, err = s.indexer.IndexBlocks(ctx, blocks, paths)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err != nil {
		s.reportError(fmt.Errorf("failed to index batch of %d files after %d attempts: %w", len(batch), s.maxRetries, err))
		return nil
	}

	for _, f := range batch {
		s.cache.Set(f.path, f.hash)
	}
	result.BlocksIndexed += indexed
	if s.onBlocksIndexed != nil && indexed > 0 {
		s.onBlocksIndexed(indexed)
	}
	return nil
}

// clearEmpty records the hash of a file truncated to zero bytes. Points left
// from its earlier content go first; if that fails the hash stays uncommitted
// so the next scan retries.
func (s *Scanner) clearEmpty(ctx context.Context, path, hash string, hadPoints bool) {
	if hadPoints {
		if err := s.indexer.RemoveFile(ctx, path); err != nil {
			s.reportError(err)
			return
		}
	}
	s.cache.Set(path, hash)
}

// removeVanished deletes points of cached files that this pass did not see.
// A failed deletion keeps the cache entry so the next scan tries again.
func (s *Scanner) removeVanished(ctx context.Context, previous map[string]string, seen map[string]bool, result *ScanResult) {
	var gone []string
	for path := range previous {
		if !seen[path] {
			gone = append(gone, path)
		}
	}
	sort.Strings(gone)

	for _, path := range gone {
		if err := s.store.DeletePointsByFilePath(ctx, path); err != nil {
			s.reportError(fmt.Errorf("failed to remove points for %s: %w", path, err))
			continue
		}
		s.cache.Delete(path)
		result.FilesRemoved++
	}
}

func (s *Scanner) reportError(err error) {
	log.Printf("Warning: %v", err)
	if s.onError != nil {
		s.onError(err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
