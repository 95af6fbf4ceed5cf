// Package cache persists the content hash of every indexed file so that scans and
// watcher passes can skip files whose bytes have not changed.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/yoanbernabeu/codeindex/internal/fileutil"
)

// HashCache maps normalized absolute file paths to the sha256 of their content.
// An entry is only written after the file's points were upserted, so presence
// means the store holds points for that file.
type HashCache struct {
	mu     sync.RWMutex
	path   string
	hashes map[string]string
}

func NewHashCache(path string) *HashCache {
	return &HashCache{
		path:   path,
		hashes: make(map[string]string),
	}
}

// Path returns the backing file location.
func (c *HashCache) Path() string {
	return c.path
}

// Load replaces the in-memory entries with the file contents. A missing or
// unreadable file yields an empty cache; the error is logged, never returned.
func (c *HashCache) Load() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hashes = make(map[string]string)

	unlock, err := fileutil.Lock(c.path, false)
	if err != nil {
		log.Printf("Warning: failed to lock hash cache %s: %v", c.path, err)
	} else {
		defer unlock()
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: failed to read hash cache %s: %v", c.path, err)
		}
		return
	}

	var loaded map[string]string
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Printf("Warning: hash cache %s is corrupt, starting empty: %v", c.path, err)
		return
	}
	for path, hash := range loaded {
		c.hashes[fileutil.NormalizePath(path)] = hash
	}
}

func (c *HashCache) Get(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hash, ok := c.hashes[fileutil.NormalizePath(path)]
	return hash, ok
}

func (c *HashCache) Set(path, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes[fileutil.NormalizePath(path)] = hash
}

func (c *HashCache) Delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := fileutil.NormalizePath(path)
	if _, ok := c.hashes[key]; ok {
		delete(c.hashes, key)
	}
}

func (c *HashCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hashes)
}

// Snapshot returns a copy of all entries.
func (c *HashCache) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.hashes))
	for k, v := range c.hashes {
		out[k] = v
	}
	return out
}

// Persist writes the entries atomically. Concurrent writers resolve last-write-wins.
func (c *HashCache) Persist() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(c.hashes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode hash cache: %w", err)
	}

	unlock, err := fileutil.Lock(c.path, true)
	if err != nil {
		return fmt.Errorf("failed to lock hash cache: %w", err)
	}
	defer unlock()

	if err := fileutil.WriteFileAtomic(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to persist hash cache: %w", err)
	}
	return nil
}

// Clear drops every entry and removes the backing file.
func (c *HashCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hashes = make(map[string]string)

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove hash cache: %w", err)
	}
	_ = os.Remove(c.path + ".lock")
	return nil
}

// HashContent returns the hex sha256 of content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
