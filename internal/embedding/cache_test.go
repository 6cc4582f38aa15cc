package embedding

import (
	"context"
	"sync"
	"testing"
)

// countingProvider wraps MockProvider and counts model calls.
type countingProvider struct {
	*MockProvider
	mu    sync.Mutex
	calls int
}

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.MockProvider.Embed(ctx, text)
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls += len(texts)
	c.mu.Unlock()
	return c.MockProvider.EmbedBatch(ctx, texts)
}

func TestCachingProviderHit(t *testing.T) {
	inner := &countingProvider{MockProvider: NewMockProvider(8)}
	cached := NewCachingProvider(inner, 16)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "graph databases")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	second, err := cached.Embed(ctx, "graph databases")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 model call, got %d", inner.calls)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}
	hits, misses := cached.CacheStats()
	if hits != 1 || misses != 1 {
		t.Errorf("expected 1 hit / 1 miss, got %d / %d", hits, misses)
	}
}

func TestCachingProviderBatchPartialMiss(t *testing.T) {
	inner := &countingProvider{MockProvider: NewMockProvider(8)}
	cached := NewCachingProvider(inner, 16)
	ctx := context.Background()

	if _, err := cached.Embed(ctx, "alpha"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	results, err := cached.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, vec := range results {
		if len(vec) != 8 {
			t.Errorf("result %d has dimension %d", i, len(vec))
		}
	}
	// alpha came from cache; only beta and gamma reached the model.
	if inner.calls != 3 {
		t.Errorf("expected 3 model calls total, got %d", inner.calls)
	}
}

func TestCachingProviderEviction(t *testing.T) {
	inner := &countingProvider{MockProvider: NewMockProvider(4)}
	cached := NewCachingProvider(inner, 2)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		if _, err := cached.Embed(ctx, text); err != nil {
			t.Fatalf("embed %q: %v", text, err)
		}
	}
	// "a" was evicted, so embedding it again reaches the model.
	if _, err := cached.Embed(ctx, "a"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if inner.calls != 4 {
		t.Errorf("expected 4 model calls, got %d", inner.calls)
	}
}

func TestMockProviderDeterministic(t *testing.T) {
	m := NewMockProvider(16)
	ctx := context.Background()

	a, _ := m.Embed(ctx, "note about lexers")
	b, _ := m.Embed(ctx, "note about lexers")
	c, _ := m.Embed(ctx, "note about parsers")

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same text produced different vectors at %d", i)
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical vectors")
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if norm < 0.99 || norm > 1.01 {
		t.Errorf("expected unit norm, got %f", norm)
	}
}

func TestMockProviderConcepts(t *testing.T) {
	m := NewMockProvider(4)
	concepts, err := m.ExtractConcepts(context.Background(), "Distributed systems need consensus. Consensus protocols are subtle.")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := map[string]bool{"distributed": true, "systems": true, "consensus": true, "protocols": true, "subtle": true}
	if len(concepts) != len(want) {
		t.Fatalf("expected %d concepts, got %v", len(want), concepts)
	}
	for _, c := range concepts {
		if !want[c] {
			t.Errorf("unexpected concept %q", c)
		}
	}
}
