// Package vector provides the pluggable multi-vector store backends and
// weighted Reciprocal Rank Fusion over per-vector rankings.
package vector

import (
	"context"
	"errors"
	"fmt"

	"noteweave/internal/models"
)

var (
	// ErrDimensionMismatch is returned when a named vector does not match the
	// backend's configured dimensionality for that name. Never retried.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrUnknownVectorName is returned when an item or query references a
	// vector name absent from the backend schema. Never retried.
	ErrUnknownVectorName = errors.New("unknown vector name")
)

// Schema maps each named vector to its configured dimensionality.
type Schema map[models.VectorName]int

// Validate checks every named vector of item against the schema.
// A mismatch is a hard validation failure, never truncated or padded.
func (s Schema) Validate(item *models.Item) error {
	for name, vec := range item.Vectors {
		dim, ok := s[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownVectorName, name)
		}
		if len(vec) != dim {
			return fmt.Errorf("%w: vector %q has %d dimensions, schema expects %d",
				ErrDimensionMismatch, name, len(vec), dim)
		}
	}
	return nil
}

// Stats describes the backend's contents.
type Stats struct {
	TotalItems int    `json:"total_items"`
	Backend    string `json:"backend"`
}

// Backend stores multi-named-vector items and runs per-vector similarity
// queries. Backends that also support server-side fused queries additionally
// implement FusedSearcher.
type Backend interface {
	// Upsert stores or replaces an item. Dimension mismatches fail the call.
	Upsert(ctx context.Context, item *models.Item) error
	// Delete removes an item by id. Deleting a nonexistent id is a no-op success.
	Delete(ctx context.Context, id string) error
	// IDsByOwner lists the ids of all items owned by ownerPath.
	IDsByOwner(ctx context.Context, ownerPath string) ([]string, error)
	// SearchSingle runs a similarity query against one named vector and
	// returns up to k results ranked by backend-native score, descending.
	SearchSingle(ctx context.Context, name models.VectorName, query []float32, k int) ([]*models.SearchResult, error)
	// Clear removes all items.
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// FusedSearcher is the optional interface for backends with native
// multi-vector fusion. Absence triggers the client-side RRF fallback.
type FusedSearcher interface {
	SearchFused(ctx context.Context, queries map[models.VectorName]FusedQuery, k int) ([]*models.SearchResult, error)
}

// FusedQuery is one named-vector leg of a fused search.
type FusedQuery struct {
	Vector []float32
	Weight float64
}
