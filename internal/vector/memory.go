package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"noteweave/internal/models"
)

// MemoryBackend is an in-memory backend using brute-force inner product
// search. Suitable for tests and small corpora. Upsert replaces the whole
// item under the write lock, so a query never observes vectors from two
// different upserts of the same id.
type MemoryBackend struct {
	schema Schema
	items  map[string]*models.Item
	mu     sync.RWMutex
}

// NewMemoryBackend creates an in-memory backend with the given schema.
func NewMemoryBackend(schema Schema) (*MemoryBackend, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema must define at least one named vector")
	}
	for name, dim := range schema {
		if dim <= 0 {
			return nil, fmt.Errorf("dimension for %q must be positive", name)
		}
	}
	return &MemoryBackend{
		schema: schema,
		items:  make(map[string]*models.Item),
	}, nil
}

// Upsert stores or replaces the item after schema validation.
func (m *MemoryBackend) Upsert(ctx context.Context, item *models.Item) error {
	if err := m.schema.Validate(item); err != nil {
		return err
	}
	stored := &models.Item{
		ID:        item.ID,
		OwnerPath: item.OwnerPath,
		Vectors:   make(map[models.VectorName][]float32, len(item.Vectors)),
		Payload:   make(map[string]string, len(item.Payload)),
	}
	for name, vec := range item.Vectors {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		stored.Vectors[name] = cp
	}
	for k, v := range item.Payload {
		stored.Payload[k] = v
	}
	m.mu.Lock()
	m.items[item.ID] = stored
	m.mu.Unlock()
	return nil
}

// Delete removes the item with the given id. Unknown ids are a no-op.
func (m *MemoryBackend) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()
	return nil
}

// IDsByOwner returns the ids of all items owned by ownerPath, sorted.
func (m *MemoryBackend) IDsByOwner(ctx context.Context, ownerPath string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, item := range m.items {
		if item.OwnerPath == ownerPath {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SearchSingle returns the top-k items by inner product against the named
// vector (cosine similarity for normalized vectors). Items lacking that
// vector are skipped. Ties are broken by id for determinism.
func (m *MemoryBackend) SearchSingle(ctx context.Context, name models.VectorName, query []float32, k int) ([]*models.SearchResult, error) {
	dim, ok := m.schema[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVectorName, name)
	}
	if len(query) != dim {
		return nil, fmt.Errorf("%w: query for %q has %d dimensions, schema expects %d",
			ErrDimensionMismatch, name, len(query), dim)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.items) == 0 {
		return nil, nil
	}
	results := make([]*models.SearchResult, 0, len(m.items))
	for id, item := range m.items {
		vec, ok := item.Vectors[name]
		if !ok {
			continue
		}
		var dot float64
		for i := range query {
			dot += float64(query[i] * vec[i])
		}
		payload := make(map[string]string, len(item.Payload))
		for pk, pv := range item.Payload {
			payload[pk] = pv
		}
		results = append(results, &models.SearchResult{ID: id, Score: dot, Payload: payload})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Clear removes all items.
func (m *MemoryBackend) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.items = make(map[string]*models.Item)
	m.mu.Unlock()
	return nil
}

// Stats returns the item count.
func (m *MemoryBackend) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Stats{TotalItems: len(m.items), Backend: "memory"}, nil
}

// Close is a no-op for MemoryBackend.
func (m *MemoryBackend) Close() error {
	return nil
}
