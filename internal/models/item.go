package models

// Item is the vector backend's persisted unit: one id with several named
// vectors and an opaque payload. Every named vector present must match the
// backend's configured dimensionality for that name.
type Item struct {
	ID        string                   `json:"id"`
	OwnerPath string                   `json:"owner_path"`
	Vectors   map[VectorName][]float32 `json:"vectors"`
	Payload   map[string]string        `json:"payload,omitempty"`
}

// ItemFromChunk builds the persisted vector item for a chunk. The chunk's
// content travels in the payload so search hits can be rendered without a
// cache or source lookup.
func ItemFromChunk(c *Chunk) *Item {
	return &Item{
		ID:        c.ID,
		OwnerPath: c.OwnerPath,
		Vectors:   c.Vectors,
		Payload: map[string]string{
			"owner_path": c.OwnerPath,
			"content":    c.Content,
		},
	}
}
