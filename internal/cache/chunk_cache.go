// Package cache provides a bounded, byte-size-tracked LRU cache for content chunks.
package cache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"noteweave/internal/models"
)

// ChunkCache is an LRU cache of chunks keyed by chunk ID with a byte budget.
// Eviction is by least-recently-used; Get refreshes recency. A single entry
// larger than the whole budget is still inserted (nothing is rejected for
// being large) and everything else is evicted around it.
type ChunkCache struct {
	maxBytes int
	curBytes int
	entries  map[string]*list.Element
	lru      *list.List // front = most recently used
	mu       sync.Mutex
	logger   *zap.Logger // optional; when set, logs size-accounting warnings
}

type cacheEntry struct {
	chunk *models.Chunk
}

// Option configures a ChunkCache.
type Option func(*ChunkCache)

// WithLogger sets a logger for consistency warnings.
func WithLogger(l *zap.Logger) Option {
	return func(c *ChunkCache) { c.logger = l }
}

// NewChunkCache creates a cache with the given byte budget.
func NewChunkCache(maxBytes int, opts ...Option) *ChunkCache {
	c := &ChunkCache{
		maxBytes: maxBytes,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores a chunk, replacing any existing entry with the same ID and
// evicting least-recently-used entries until the byte budget is satisfied
// or nothing else remains to evict.
func (c *ChunkCache) Set(id string, chunk *models.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunk.SizeBytes = models.EstimateSize(chunk)

	if elem, ok := c.entries[id]; ok {
		// An update replaces content, vectors, and size accounting in place.
		// Recency is refreshed by Get, never by Set: the entry keeps its
		// position and timestamp.
		old := elem.Value.(*cacheEntry)
		chunk.LastAccessedAt = old.chunk.LastAccessedAt
		c.addBytes(-old.chunk.SizeBytes)
		old.chunk = chunk
		c.addBytes(chunk.SizeBytes)
		c.evictOverBudget(elem)
		return
	}

	if chunk.LastAccessedAt.IsZero() {
		chunk.LastAccessedAt = time.Now()
	}
	elem := c.lru.PushFront(&cacheEntry{chunk: chunk})
	c.entries[id] = elem
	c.addBytes(chunk.SizeBytes)
	c.evictOverBudget(elem)
}

// evictOverBudget removes entries from the LRU tail until the budget holds.
// keep is skipped, never evicted: an oversized or tail-positioned incoming
// entry survives while everything else is evicted around it.
func (c *ChunkCache) evictOverBudget(keep *list.Element) {
	for elem := c.lru.Back(); elem != nil && c.curBytes > c.maxBytes; {
		prev := elem.Prev()
		if elem != keep {
			c.removeElement(elem)
		}
		elem = prev
	}
}

func (c *ChunkCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.lru.Remove(elem)
	delete(c.entries, entry.chunk.ID)
	c.addBytes(-entry.chunk.SizeBytes)
}

// addBytes adjusts the running total, clamping at zero. A negative projected
// total indicates accounting drift; it is logged and clamped, never fatal.
func (c *ChunkCache) addBytes(delta int) {
	c.curBytes += delta
	if c.curBytes < 0 {
		if c.logger != nil {
			c.logger.Warn("chunk cache size accounting went negative, clamping to zero",
				zap.Int("delta", delta))
		}
		c.curBytes = 0
	}
}

// Get returns the chunk for id and refreshes its recency.
func (c *ChunkCache) Get(id string) (*models.Chunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	entry.chunk.LastAccessedAt = time.Now()
	c.lru.MoveToFront(elem)
	return entry.chunk, true
}

// Has reports whether id is cached without refreshing recency.
func (c *ChunkCache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Delete removes the entry for id if present.
func (c *ChunkCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[id]; ok {
		c.removeElement(elem)
	}
}

// DeleteByOwner removes every chunk owned by path and returns how many were removed.
// Used when a note is removed or re-chunked.
func (c *ChunkCache) DeleteByOwner(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*cacheEntry).chunk.OwnerPath == path {
			c.removeElement(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// GetAll returns all cached chunks in most-recently-used order.
// Recency is not refreshed.
func (c *ChunkCache) GetAll() []*models.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	chunks := make([]*models.Chunk, 0, c.lru.Len())
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		chunks = append(chunks, elem.Value.(*cacheEntry).chunk)
	}
	return chunks
}

// GetByOwner returns all cached chunks owned by path. Recency is not refreshed.
func (c *ChunkCache) GetByOwner(path string) []*models.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	var chunks []*models.Chunk
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		chunk := elem.Value.(*cacheEntry).chunk
		if chunk.OwnerPath == path {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// Size returns the number of cached chunks.
func (c *ChunkCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// CurrentSizeBytes returns the tracked total size of all cached chunks.
func (c *ChunkCache) CurrentSizeBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// MaxSizeBytes returns the configured byte budget.
func (c *ChunkCache) MaxSizeBytes() int {
	return c.maxBytes
}

// Clear removes all entries.
func (c *ChunkCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.curBytes = 0
}
