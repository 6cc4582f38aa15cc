package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"noteweave/pkg/utils"
)

// MockProvider produces deterministic embeddings without a model. Identical
// texts always embed to identical vectors, which is all the tests need.
type MockProvider struct {
	dimensions int
}

// NewMockProvider creates a mock provider with the given dimensionality.
func NewMockProvider(dimensions int) *MockProvider {
	return &MockProvider{dimensions: dimensions}
}

// Embed returns a normalized pseudo-random vector seeded by the text.
func (m *MockProvider) Embed(_ context.Context, text string) ([]float32, error) {
	seed := hashString(text)
	vec := make([]float32, m.dimensions)
	for i := range vec {
		vec[i] = float32(math.Sin(float64(seed) + float64(i)*0.1))
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (m *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// ExtractConcepts returns the distinct lowercased words of at least five
// characters, sorted, capped at ten. Deterministic and good enough to drive
// association tests.
func (m *MockProvider) ExtractConcepts(_ context.Context, text string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()[]#*")
		if len(word) < 5 {
			continue
		}
		seen[word] = struct{}{}
	}
	concepts := make([]string, 0, len(seen))
	for word := range seen {
		concepts = append(concepts, word)
	}
	sort.Strings(concepts)
	if len(concepts) > 10 {
		concepts = concepts[:10]
	}
	return concepts, nil
}

// Dimensions returns the configured dimensionality.
func (m *MockProvider) Dimensions() int {
	return m.dimensions
}

// Health always succeeds.
func (m *MockProvider) Health(context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MockProvider) Close() error {
	return nil
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
