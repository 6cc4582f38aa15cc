package embedding

import (
	"container/list"
	"context"
	"sync"
)

// CachingProvider wraps a Provider with an LRU cache keyed by text, so
// re-indexing an unchanged note does not hit the embedding model again.
type CachingProvider struct {
	inner    Provider
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
	hits     uint64
	misses   uint64
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewCachingProvider wraps inner with a cache holding up to capacity embeddings.
func NewCachingProvider(inner Provider, capacity int) *CachingProvider {
	return &CachingProvider{
		inner:    inner,
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

func (c *CachingProvider) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		c.hits++
		return elem.Value.(*cacheEntry).value, true
	}
	c.misses++
	return nil, false
}

func (c *CachingProvider) set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, value: value})
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Embed returns the cached embedding for text, or delegates to the inner
// provider and caches the result.
func (c *CachingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.get(text); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.set(text, vec)
	return vec, nil
}

// EmbedBatch embeds texts, serving cached entries and batching only the
// misses to the inner provider.
func (c *CachingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := c.get(text); ok {
			results[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return results, nil
	}
	embedded, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range embedded {
		results[missingIdx[j]] = vec
		c.set(missing[j], vec)
	}
	return results, nil
}

// ExtractConcepts delegates to the inner provider; concept extraction is
// not cached.
func (c *CachingProvider) ExtractConcepts(ctx context.Context, text string) ([]string, error) {
	return c.inner.ExtractConcepts(ctx, text)
}

// Dimensions returns the inner provider's dimensionality.
func (c *CachingProvider) Dimensions() int {
	return c.inner.Dimensions()
}

// Health delegates to the inner provider.
func (c *CachingProvider) Health(ctx context.Context) error {
	return c.inner.Health(ctx)
}

// Close closes the inner provider.
func (c *CachingProvider) Close() error {
	return c.inner.Close()
}

// CacheStats reports cumulative hit and miss counts.
func (c *CachingProvider) CacheStats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
