package vector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"noteweave/internal/models"
)

func openTestSQLite(t *testing.T) *SQLiteVecBackend {
	t.Helper()
	b, err := NewSQLiteVecBackend(filepath.Join(t.TempDir(), "vectors.db"), testSchema())
	if err != nil {
		t.Fatalf("open sqlite-vec backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSQLiteVecRoundTrip(t *testing.T) {
	b := openTestSQLite(t)
	ctx := context.Background()

	item := testItem("c1", "/notes/a.md", []float32{1, 0, 0}, []float32{0, 1})
	item.Payload["content"] = "the chunk body"
	if err := b.Upsert(ctx, item); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := b.Upsert(ctx, testItem("c2", "/notes/b.md", []float32{0, 1, 0}, nil)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := b.SearchSingle(ctx, models.VectorContent, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 || results[0].ID != "c1" {
		t.Fatalf("expected c1 as top hit, got %v", results)
	}
	if results[0].Score < results[1].Score {
		t.Error("results not ranked by similarity descending")
	}
	if results[0].Payload["content"] != "the chunk body" {
		t.Errorf("payload lost in round trip: %v", results[0].Payload)
	}
}

func TestSQLiteVecValidationAndDelete(t *testing.T) {
	b := openTestSQLite(t)
	ctx := context.Background()

	if err := b.Upsert(ctx, testItem("bad", "/a", []float32{1}, nil)); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if err := b.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("delete of unknown id should be a no-op success, got %v", err)
	}

	if err := b.Upsert(ctx, testItem("c1", "/a", []float32{1, 0, 0}, nil)); err != nil {
		t.Fatal(err)
	}
	if err := b.Delete(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	stats, err := b.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalItems != 0 {
		t.Errorf("expected 0 items after delete, got %d", stats.TotalItems)
	}
}

func TestSQLiteVecUpsertReplaces(t *testing.T) {
	b := openTestSQLite(t)
	ctx := context.Background()

	if err := b.Upsert(ctx, testItem("c1", "/a", []float32{1, 0, 0}, []float32{1, 0})); err != nil {
		t.Fatal(err)
	}
	if err := b.Upsert(ctx, testItem("c1", "/b", []float32{0, 0, 1}, nil)); err != nil {
		t.Fatal(err)
	}

	ids, err := b.IDsByOwner(ctx, "/b")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "c1" {
		t.Errorf("owner should follow the replacement, got %v", ids)
	}
	results, err := b.SearchSingle(ctx, models.VectorTitle, []float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("stale title vector survived replacement: %v", results)
	}
}
