package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/yoanbernabeu/codeindex/internal/fileutil"
)

// GOBStore is a single-file local backend. Every mutation is flushed to disk so
// the file always mirrors what the hash cache claims is indexed.
type GOBStore struct {
	indexPath string
	points    map[string]Point // id -> point
	loaded    bool
	mu        sync.RWMutex
}

type gobData struct {
	Points map[string]Point
}

func NewGOBStore(indexPath string) *GOBStore {
	return &GOBStore{
		indexPath: indexPath,
		points:    make(map[string]Point),
	}
}

func (s *GOBStore) Initialize(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.indexPath); err == nil {
		if err := s.loadLocked(); err != nil {
			return false, err
		}
		return false, nil
	}

	s.points = make(map[string]Point)
	s.loaded = true
	if err := s.persistLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *GOBStore) UpsertPoints(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}
	for _, p := range points {
		s.points[p.ID] = p
	}
	return s.persistLocked()
}

func (s *GOBStore) DeletePointsByFilePath(ctx context.Context, filePath string) error {
	return s.DeletePointsByFilePaths(ctx, []string{filePath})
}

func (s *GOBStore) DeletePointsByFilePaths(ctx context.Context, filePaths []string) error {
	paths := normalizePaths(filePaths)
	if len(paths) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}

	targets := make(map[string]bool, len(paths))
	for _, p := range paths {
		targets[p] = true
	}

	removed := 0
	for id, p := range s.points {
		if targets[p.Payload.FilePath] {
			delete(s.points, id)
			removed++
		}
	}
	if removed == 0 {
		return nil
	}
	return s.persistLocked()
}

func (s *GOBStore) Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error) {
	s.mu.Lock()
	if err := s.ensureLoaded(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]SearchResult, 0, len(s.points))
	for _, p := range s.points {
		if !p.Payload.valid() {
			continue
		}
		results = append(results, SearchResult{
			ID:      p.ID,
			Score:   cosineSimilarity(queryVector, p.Vector),
			Payload: p.Payload,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *GOBStore) CollectionExists(ctx context.Context) (bool, error) {
	_, err := os.Stat(s.indexPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat index file: %w", err)
}

func (s *GOBStore) ClearCollection(ctx context.Context) error {
	exists, err := s.CollectionExists(ctx)
	if err != nil || !exists {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.points = make(map[string]Point)
	s.loaded = true
	return s.persistLocked()
}

func (s *GOBStore) DeleteCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.points = make(map[string]Point)
	s.loaded = false
	if err := os.Remove(s.indexPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove index file: %w", err)
	}
	_ = os.Remove(s.indexPath + ".lock")
	return nil
}

func (s *GOBStore) Close() error {
	return nil
}

// Count returns the number of stored points.
func (s *GOBStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

func (s *GOBStore) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	return s.loadLocked()
}

func (s *GOBStore) loadLocked() error {
	unlock, err := fileutil.Lock(s.indexPath, false)
	if err != nil {
		return err
	}
	defer unlock()

	raw, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			s.points = make(map[string]Point)
			s.loaded = true
			return nil
		}
		return fmt.Errorf("failed to open index file: %w", err)
	}

	var data gobData
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode index: %w", err)
	}

	s.points = data.Points
	if s.points == nil {
		s.points = make(map[string]Point)
	}
	s.loaded = true
	return nil
}

func (s *GOBStore) persistLocked() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobData{Points: s.points}); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	unlock, err := fileutil.Lock(s.indexPath, true)
	if err != nil {
		return err
	}
	defer unlock()

	return fileutil.WriteFileAtomic(s.indexPath, buf.Bytes(), 0644)
}

// cosineSimilarity calculates the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}
