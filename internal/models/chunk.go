// Package models defines core data structures for chunks, vector items, search
// results, and note associations.
package models

import "time"

// VectorName identifies one of the independent embedding spaces attached to a chunk.
type VectorName string

const (
	// VectorContent embeds the chunk body.
	VectorContent VectorName = "content"
	// VectorSummary embeds a condensed form of the chunk body.
	VectorSummary VectorName = "summary"
	// VectorTitle embeds the chunk's heading path.
	VectorTitle VectorName = "title"
)

// chunkOverheadBytes is the fixed per-chunk bookkeeping cost used for size accounting.
const chunkOverheadBytes = 128

// Chunk is a piece of note content with its named embedding vectors.
// Immutable once written except LastAccessedAt, which is cache bookkeeping.
type Chunk struct {
	ID             string                   `json:"id"`
	OwnerPath      string                   `json:"owner_path"`
	Content        string                   `json:"content"`
	Vectors        map[VectorName][]float32 `json:"vectors"`
	SizeBytes      int                      `json:"size_bytes"`
	LastAccessedAt time.Time                `json:"-"`
}

// EstimateSize returns the deterministic byte-size estimate for a chunk:
// content length + 4 bytes per vector element + fixed overhead.
// Must be recomputed whenever content or vectors change.
func EstimateSize(c *Chunk) int {
	size := len(c.Content) + chunkOverheadBytes
	for _, vec := range c.Vectors {
		size += len(vec) * 4
	}
	return size
}
