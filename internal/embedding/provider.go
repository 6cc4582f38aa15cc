// Package embedding provides the embedding/concept-extraction provider
// contract, an Ollama-backed implementation, and a caching wrapper.
package embedding

import "context"

// Provider supplies vector embeddings and concept extraction for note text.
// Failures are I/O errors (the service is down or slow), not malformed data;
// callers treat them as retryable.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one embedding per input text, same length and order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// ExtractConcepts returns the distinct concept labels found in text.
	ExtractConcepts(ctx context.Context, text string) ([]string, error)
	Dimensions() int
	// Health reports whether the provider is reachable.
	Health(ctx context.Context) error
	Close() error
}
