package cache

import (
	"fmt"
	"testing"

	"noteweave/internal/models"
)

// testChunk builds a chunk whose estimated size is exactly sizeBytes.
// EstimateSize = len(content) + 128 overhead, so content pads the difference.
func testChunk(id, owner string, sizeBytes int) *models.Chunk {
	contentLen := sizeBytes - 128
	if contentLen < 0 {
		contentLen = 0
	}
	content := make([]byte, contentLen)
	for i := range content {
		content[i] = 'x'
	}
	return &models.Chunk{ID: id, OwnerPath: owner, Content: string(content)}
}

func TestSetGetHas(t *testing.T) {
	c := NewChunkCache(10000)
	c.Set("c1", testChunk("c1", "/notes/a.md", 200))

	if !c.Has("c1") {
		t.Error("expected c1 to be cached")
	}
	got, ok := c.Get("c1")
	if !ok {
		t.Fatal("expected c1 to be retrievable")
	}
	if got.OwnerPath != "/notes/a.md" {
		t.Errorf("unexpected owner %q", got.OwnerPath)
	}
	if got.SizeBytes != 200 {
		t.Errorf("expected size 200, got %d", got.SizeBytes)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown id")
	}
}

func TestByteBudgetInvariant(t *testing.T) {
	c := NewChunkCache(1000)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("c%d", i)
		c.Set(id, testChunk(id, "/notes/a.md", 300))
		if c.CurrentSizeBytes() > c.MaxSizeBytes() {
			t.Fatalf("budget exceeded after insert %d: %d > %d", i, c.CurrentSizeBytes(), c.MaxSizeBytes())
		}
	}
	if c.Size() != 3 {
		t.Errorf("expected 3 entries to fit, got %d", c.Size())
	}
}

func TestLRUEviction(t *testing.T) {
	// Capacity fits exactly two 300-byte chunks.
	c := NewChunkCache(600)
	c.Set("c1", testChunk("c1", "/a", 300))
	c.Set("c2", testChunk("c2", "/a", 300))

	// Without any access, c1 is least recently used.
	c.Set("c3", testChunk("c3", "/a", 300))
	if c.Has("c1") {
		t.Error("c1 should have been evicted")
	}
	if !c.Has("c2") || !c.Has("c3") {
		t.Error("c2 and c3 should be retained")
	}

	// Accessing c2 makes c3 the eviction victim on the next insert.
	c.Get("c2")
	c.Set("c4", testChunk("c4", "/a", 300))
	if c.Has("c3") {
		t.Error("c3 should have been evicted after c2 was accessed")
	}
	if !c.Has("c2") || !c.Has("c4") {
		t.Error("c2 and c4 should be retained")
	}
}

func TestUpdateDoesNotRefreshRecency(t *testing.T) {
	// Capacity fits exactly two 300-byte chunks.
	c := NewChunkCache(600)
	c.Set("c1", testChunk("c1", "/a", 300))
	c.Set("c2", testChunk("c2", "/a", 300))

	// Updating c1 replaces its content but not its eviction priority; it is
	// still the least recently used and must be the next victim.
	c.Set("c1", testChunk("c1", "/a", 300))
	c.Set("c3", testChunk("c3", "/a", 300))
	if c.Has("c1") {
		t.Error("updated-but-never-accessed c1 should have been evicted")
	}
	if !c.Has("c2") || !c.Has("c3") {
		t.Error("c2 and c3 should be retained")
	}
}

func TestGrowingUpdateEvictsAround(t *testing.T) {
	c := NewChunkCache(600)
	c.Set("c1", testChunk("c1", "/a", 300))
	c.Set("c2", testChunk("c2", "/a", 300))

	// Growing c1 in place pushes the total over budget; eviction must skip
	// the updated entry (even at the LRU tail) and remove c2 instead.
	c.Set("c1", testChunk("c1", "/a", 500))
	if !c.Has("c1") {
		t.Error("the updated entry itself must survive")
	}
	if c.Has("c2") {
		t.Error("c2 should have been evicted to restore the budget")
	}
	if c.CurrentSizeBytes() != 500 {
		t.Errorf("expected 500 tracked bytes, got %d", c.CurrentSizeBytes())
	}
}

func TestOversizedEntryRetained(t *testing.T) {
	c := NewChunkCache(500)
	c.Set("small", testChunk("small", "/a", 200))
	c.Set("huge", testChunk("huge", "/a", 900))

	if !c.Has("huge") {
		t.Error("oversized entry must still be inserted")
	}
	if c.Has("small") {
		t.Error("everything else should be evicted around an oversized entry")
	}
	if c.Size() != 1 {
		t.Errorf("expected only the oversized entry, got %d entries", c.Size())
	}
}

func TestReplaceAccounting(t *testing.T) {
	c := NewChunkCache(1000)
	c.Set("c1", testChunk("c1", "/a", 400))
	c.Set("c1", testChunk("c1", "/a", 250))
	if c.CurrentSizeBytes() != 250 {
		t.Errorf("expected 250 bytes after replace, got %d", c.CurrentSizeBytes())
	}
	if c.Size() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Size())
	}
}

func TestDeleteByOwner(t *testing.T) {
	c := NewChunkCache(10000)
	c.Set("a1", testChunk("a1", "/notes/a.md", 200))
	c.Set("a2", testChunk("a2", "/notes/a.md", 200))
	c.Set("b1", testChunk("b1", "/notes/b.md", 200))

	if got := len(c.GetByOwner("/notes/a.md")); got != 2 {
		t.Errorf("expected 2 chunks for owner a, got %d", got)
	}
	removed := c.DeleteByOwner("/notes/a.md")
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if c.Has("a1") || c.Has("a2") {
		t.Error("owner a chunks should be gone")
	}
	if !c.Has("b1") {
		t.Error("owner b chunk should survive")
	}
	if c.CurrentSizeBytes() != 200 {
		t.Errorf("expected 200 bytes remaining, got %d", c.CurrentSizeBytes())
	}
}

func TestClear(t *testing.T) {
	c := NewChunkCache(10000)
	c.Set("c1", testChunk("c1", "/a", 200))
	c.Set("c2", testChunk("c2", "/a", 200))
	c.Clear()
	if c.Size() != 0 || c.CurrentSizeBytes() != 0 {
		t.Errorf("expected empty cache, got %d entries / %d bytes", c.Size(), c.CurrentSizeBytes())
	}
	if c.Has("c1") {
		t.Error("c1 should be gone after Clear")
	}
}

func TestGetAllOrder(t *testing.T) {
	c := NewChunkCache(10000)
	c.Set("c1", testChunk("c1", "/a", 200))
	c.Set("c2", testChunk("c2", "/a", 200))
	c.Get("c1")
	all := c.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(all))
	}
	if all[0].ID != "c1" {
		t.Errorf("most recently used should come first, got %q", all[0].ID)
	}
}
