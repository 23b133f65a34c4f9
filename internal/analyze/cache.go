package analyze

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const cacheFilename = "analysis-cache.json"

// CacheEntry records what we knew about a content item after its last analysis
type CacheEntry struct {
	Hash        string    `json:"hash"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
	MomentCount int       `json:"moment_count"`
}

// Cache is the persisted item-fingerprint map backing change detection.
// Thread-safe; call Load once at startup and Save after each run.
type Cache struct {
	path    string
	entries map[string]CacheEntry
	mu      sync.RWMutex
}

// cacheFile is the on-disk wrapper
type cacheFile struct {
	Entries map[string]CacheEntry `json:"entries"`
}

// NewCache creates a cache stored in dataDir
func NewCache(dataDir string) *Cache {
	return &Cache{
		path:    filepath.Join(dataDir, cacheFilename),
		entries: make(map[string]CacheEntry),
	}
}

// Load reads the cache from disk. A missing file starts an empty cache.
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		c.entries = make(map[string]CacheEntry)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read analysis cache: %w", err)
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse analysis cache: %w", err)
	}
	if f.Entries == nil {
		f.Entries = make(map[string]CacheEntry)
	}
	c.entries = f.Entries
	return nil
}

// Save writes the cache to disk
func (c *Cache) Save() error {
	c.mu.RLock()
	data, err := json.MarshalIndent(cacheFile{Entries: c.entries}, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal analysis cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write analysis cache: %w", err)
	}
	return nil
}

// Get returns the entry for an item ID
func (c *Cache) Get(id string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// Put records an entry for an item ID
func (c *Cache) Put(id string, e CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = e
}

// Delete removes an item's entry
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Clear drops every entry (full re-analysis)
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]CacheEntry)
}

// Len returns the number of cached items
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of the entry map
func (c *Cache) Snapshot() map[string]CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]CacheEntry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}
