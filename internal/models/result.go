package models

// SearchResult is a single search hit. Score is backend-native for
// single-vector queries and fused-rank-derived for multi-vector queries.
type SearchResult struct {
	ID      string            `json:"id"`
	Score   float64           `json:"score"`
	Payload map[string]string `json:"payload,omitempty"`
}

// SearchResponse wraps a ranked result list with query bookkeeping.
// Degraded is set when one or more per-vector queries failed and the
// ranking was fused from the remainder.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
	Degraded  bool            `json:"degraded,omitempty"`
}
