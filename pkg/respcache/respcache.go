// Package respcache is the on-disk runtime cache of backend responses.
//
// The REST client stores every successful GET body here keyed by request
// URL and serves it back when the transport fails. Entries are evicted
// least-recently-used once the size budget is exceeded. Safe mode purges
// the whole cache.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const indexFile = "index.json"

// Entry describes one cached response.
type Entry struct {
	Key         string    `json:"key"`
	File        string    `json:"file"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size"`
	StoredAt    time.Time `json:"storedAt"`
	LastAccess  time.Time `json:"lastAccess"`
}

// Cache manages cached response bodies in a directory.
type Cache struct {
	dir     string
	maxSize int64

	mu      sync.RWMutex
	entries map[string]*Entry
	size    int64
}

// New creates a cache in dir and loads any index left by a previous run.
func New(dir string, maxSize int64) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &Cache{
		dir:     dir,
		maxSize: maxSize,
		entries: make(map[string]*Entry),
	}
	if err := c.loadIndex(); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the cached body for key.
func (c *Cache) Get(key string) ([]byte, Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, Entry{}, false
	}
	body, err := os.ReadFile(filepath.Join(c.dir, entry.File))
	if err != nil {
		// File vanished underneath us; forget the entry.
		c.size -= entry.Size
		delete(c.entries, key)
		return nil, Entry{}, false
	}
	entry.LastAccess = time.Now()
	return body, *entry, true
}

// Put stores body under key, replacing any previous entry.
// Content is written atomically (temp file then rename).
func (c *Cache) Put(key string, body []byte, contentType string) error {
	size := int64(len(body))
	if c.maxSize > 0 && size > c.maxSize {
		return fmt.Errorf("response of %d bytes exceeds cache size %d", size, c.maxSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.size -= old.Size
		delete(c.entries, key)
	}
	for c.maxSize > 0 && c.size+size > c.maxSize {
		if !c.evictOldest() {
			break
		}
	}

	name := fileName(key)
	localPath := filepath.Join(c.dir, name)
	tempPath := localPath + ".tmp"
	if err := os.WriteFile(tempPath, body, 0600); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("write response: %w", err)
	}
	if err := os.Rename(tempPath, localPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	now := time.Now()
	c.entries[key] = &Entry{
		Key:         key,
		File:        name,
		ContentType: contentType,
		Size:        size,
		StoredAt:    now,
		LastAccess:  now,
	}
	c.size += size
	return c.saveIndexLocked()
}

// Evict removes one entry.
func (c *Cache) Evict(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	os.Remove(filepath.Join(c.dir, entry.File))
	c.size -= entry.Size
	delete(c.entries, key)
	return c.saveIndexLocked()
}

// Clear removes every entry and returns how many were dropped.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := len(c.entries)
	for key, entry := range c.entries {
		os.Remove(filepath.Join(c.dir, entry.File))
		delete(c.entries, key)
	}
	c.size = 0
	os.Remove(filepath.Join(c.dir, indexFile))
	return count
}

// Purge drops all cached responses. It satisfies the safe-mode cache
// storage contract.
func (c *Cache) Purge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Clear()
	return nil
}

// Name identifies the cache in logs.
func (c *Cache) Name() string {
	return "responses:" + c.dir
}

// Stats returns cache statistics.
func (c *Cache) Stats() (size, maxSize int64, count int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size, c.maxSize, len(c.entries)
}

// List returns a copy of all entries.
func (c *Cache) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	return out
}

// Dir returns the cache directory path.
func (c *Cache) Dir() string {
	return c.dir
}

// evictOldest removes the least recently used entry.
// Must be called with lock held.
func (c *Cache) evictOldest() bool {
	var oldest *Entry
	for _, e := range c.entries {
		if oldest == nil || e.LastAccess.Before(oldest.LastAccess) {
			oldest = e
		}
	}
	if oldest == nil {
		return false
	}
	os.Remove(filepath.Join(c.dir, oldest.File))
	c.size -= oldest.Size
	delete(c.entries, oldest.Key)
	return true
}

func (c *Cache) saveIndexLocked() error {
	list := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		list = append(list, e)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, indexFile), data, 0600)
}

func (c *Cache) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(c.dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache index: %w", err)
	}

	var list []*Entry
	if err := json.Unmarshal(data, &list); err != nil {
		// A broken index only loses the cache, never the caller's data.
		os.Remove(filepath.Join(c.dir, indexFile))
		return nil
	}
	for _, e := range list {
		if _, err := os.Stat(filepath.Join(c.dir, e.File)); err != nil {
			continue
		}
		c.entries[e.Key] = e
		c.size += e.Size
	}
	return nil
}

func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + ".body"
}
