package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"noteweave/internal/models"
	"noteweave/internal/storage"
	"noteweave/internal/vector"
)

// fakeBackend records applied operations in order and fails on demand.
type fakeBackend struct {
	mu       sync.Mutex
	applied  []string // "upsert:<id>" / "delete:<id>"
	failures map[string]int
	failWith error
	block    chan struct{} // when set, Upsert blocks until the channel closes
	submits  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{failures: make(map[string]int), failWith: errors.New("backend busy")}
}

func (f *fakeBackend) Upsert(ctx context.Context, item *models.Item) error {
	f.mu.Lock()
	block := f.block
	f.submits++
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.failures[item.ID]; n != 0 {
		if n > 0 {
			f.failures[item.ID] = n - 1
		}
		return f.failWith
	}
	f.applied = append(f.applied, "upsert:"+item.ID)
	return nil
}

func (f *fakeBackend) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if n := f.failures[id]; n != 0 {
		if n > 0 {
			f.failures[id] = n - 1
		}
		return f.failWith
	}
	f.applied = append(f.applied, "delete:"+id)
	return nil
}

func (f *fakeBackend) IDsByOwner(ctx context.Context, owner string) ([]string, error) {
	return nil, nil
}
func (f *fakeBackend) SearchSingle(ctx context.Context, name models.VectorName, query []float32, k int) ([]*models.SearchResult, error) {
	return nil, nil
}
func (f *fakeBackend) Clear(ctx context.Context) error { return nil }
func (f *fakeBackend) Close() error                    { return nil }
func (f *fakeBackend) Stats(ctx context.Context) (*vector.Stats, error) {
	return &vector.Stats{Backend: "fake"}, nil
}

func (f *fakeBackend) appliedOps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.applied))
	copy(out, f.applied)
	return out
}

func upsertOp(id, owner string) *Operation {
	return &Operation{
		Chunk: &models.Chunk{ID: id, OwnerPath: owner, Content: "body of " + id},
		Op:    OpUpsert,
	}
}

func testQueue(b *fakeBackend, opts Options) *PersistQueue {
	return New(b, storage.NewMemory(), "queue/journal", opts)
}

func TestDrainAppliesInOrder(t *testing.T) {
	b := newFakeBackend()
	q := testQueue(b, Options{})
	for _, id := range []string{"c1", "c2", "c3"} {
		if err := q.Enqueue(upsertOp(id, "/notes/a.md")); err != nil {
			t.Fatal(err)
		}
	}
	res, err := q.Drain(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 3 || res.Retried != 0 || res.Failed != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	want := []string{"upsert:c1", "upsert:c2", "upsert:c3"}
	got := b.appliedOps()
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("applied %v, want %v", got, want)
	}
	stats := q.Stats()
	if stats.Pending != 0 || stats.InFlight != 0 {
		t.Errorf("queue should be empty, got %+v", stats)
	}
}

func TestPerOwnerOrderSurvivesRetries(t *testing.T) {
	b := newFakeBackend()
	b.failures["c1"] = 2
	q := testQueue(b, Options{BaseDelay: time.Millisecond, MaxRetries: 5})
	for _, id := range []string{"c1", "c2", "c3"} {
		q.Enqueue(upsertOp(id, "/notes/a.md"))
	}

	// c1 fails; c2 and c3 must not overtake it.
	for i := 0; i < 10; i++ {
		if _, err := q.Drain(context.Background(), 10); err != nil {
			t.Fatal(err)
		}
		if q.Stats().Pending == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond) // let backoff windows elapse
	}
	want := []string{"upsert:c1", "upsert:c2", "upsert:c3"}
	got := b.appliedOps()
	if len(got) != 3 {
		t.Fatalf("expected 3 applied ops, got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order violated: applied %v, want %v", got, want)
		}
	}
}

func TestBackoffGatesRetry(t *testing.T) {
	b := newFakeBackend()
	b.failures["c1"] = 1
	q := testQueue(b, Options{BaseDelay: time.Hour, MaxRetries: 5})
	q.Enqueue(upsertOp("c1", "/a"))

	if _, err := q.Drain(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	// The retry is gated by NotBefore an hour away; an immediate drain must
	// not resubmit it.
	res, err := q.Drain(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 0 || res.Retried != 0 {
		t.Errorf("backoff-gated op was drained: %+v", res)
	}
	if q.Stats().Pending != 1 {
		t.Errorf("op should still be pending, got %+v", q.Stats())
	}
}

func TestRetryCeilingMovesToPermanentFailures(t *testing.T) {
	b := newFakeBackend()
	b.failures["c1"] = -1 // fail forever
	q := testQueue(b, Options{BaseDelay: time.Millisecond, MaxRetries: 2})
	q.Enqueue(upsertOp("c1", "/a"))

	for i := 0; i < 10 && q.Stats().FailedPermanently == 0; i++ {
		q.Drain(context.Background(), 10)
		time.Sleep(3 * time.Millisecond)
	}
	stats := q.Stats()
	if stats.FailedPermanently != 1 {
		t.Fatalf("expected exactly 1 permanent failure, got %+v", stats)
	}
	if stats.Pending != 0 {
		t.Errorf("permanently failed op must leave the pending queue: %+v", stats)
	}

	// Never drained again.
	b.mu.Lock()
	submitsBefore := b.submits
	b.mu.Unlock()
	q.Drain(context.Background(), 10)
	b.mu.Lock()
	if b.submits != submitsBefore {
		t.Error("permanently failed op was resubmitted")
	}
	b.mu.Unlock()

	failed := q.Failed()
	if len(failed) != 1 || failed[0].Operation.Chunk.ID != "c1" {
		t.Errorf("failure ledger should retain the op, got %v", failed)
	}
}

func TestValidationErrorFailsImmediately(t *testing.T) {
	b := newFakeBackend()
	b.failures["c1"] = -1
	b.failWith = vector.ErrDimensionMismatch
	q := testQueue(b, Options{MaxRetries: 5})
	q.Enqueue(upsertOp("c1", "/a"))

	res, err := q.Drain(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Retried != 0 {
		t.Errorf("validation failure must not be retried: %+v", res)
	}
	if q.Stats().FailedPermanently != 1 {
		t.Errorf("expected permanent failure, got %+v", q.Stats())
	}
}

func TestUnrelatedOwnersProgressPastFailure(t *testing.T) {
	b := newFakeBackend()
	b.failures["a1"] = -1
	q := testQueue(b, Options{BaseDelay: time.Hour, MaxRetries: 10})
	q.Enqueue(upsertOp("a1", "/notes/a.md"))
	q.Enqueue(upsertOp("b1", "/notes/b.md"))

	if _, err := q.Drain(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	got := b.appliedOps()
	if len(got) != 1 || got[0] != "upsert:b1" {
		t.Errorf("owner b should progress despite owner a failing, applied %v", got)
	}
}

func TestEnqueueDuringDrainLandsAfterInFlight(t *testing.T) {
	b := newFakeBackend()
	block := make(chan struct{})
	b.block = block
	q := testQueue(b, Options{})
	q.Enqueue(upsertOp("c1", "/a"))

	drained := make(chan DrainResult)
	go func() {
		res, _ := q.Drain(context.Background(), 10)
		drained <- res
	}()

	// Wait until c1 is in flight, then enqueue c2 and try a second drain.
	for q.Stats().InFlight == 0 {
		time.Sleep(time.Millisecond)
	}
	q.Enqueue(upsertOp("c2", "/a"))
	res, err := q.Drain(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 0 {
		t.Errorf("second drain must not touch an owner with ops in flight: %+v", res)
	}

	b.mu.Lock()
	b.block = nil
	b.mu.Unlock()
	close(block)
	<-drained

	if _, err := q.Drain(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	got := b.appliedOps()
	if len(got) != 2 || got[0] != "upsert:c1" || got[1] != "upsert:c2" {
		t.Errorf("c2 should apply after the in-flight c1, got %v", got)
	}
}

func TestJournalRecovery(t *testing.T) {
	adapter := storage.NewMemory()
	b := newFakeBackend()
	q := New(b, adapter, "queue/journal", Options{})
	q.Enqueue(upsertOp("c1", "/a"))
	q.Enqueue(upsertOp("c2", "/a"))
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A fresh queue over the same adapter recovers the pending ops.
	q2 := New(b, adapter, "queue/journal", Options{FlushInterval: time.Hour})
	if err := q2.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer q2.Shutdown(context.Background())
	if got := q2.Stats().Pending; got != 2 {
		t.Fatalf("expected 2 recovered ops, got %d", got)
	}
	if _, err := q2.Drain(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	got := b.appliedOps()
	if len(got) != 2 || got[0] != "upsert:c1" || got[1] != "upsert:c2" {
		t.Errorf("recovered ops should drain in original order, got %v", got)
	}
}

func TestShutdownRetainsPending(t *testing.T) {
	adapter := storage.NewMemory()
	q := New(newFakeBackend(), adapter, "queue/journal", Options{})
	q.Enqueue(upsertOp("c1", "/a"))
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Stats stay queryable after shutdown and the journal retains the op.
	if q.Stats().Pending != 1 {
		t.Errorf("shutdown must not discard pending ops: %+v", q.Stats())
	}
	ok, err := adapter.Exists("queue/journal")
	if err != nil || !ok {
		t.Errorf("journal should exist after shutdown (ok=%v err=%v)", ok, err)
	}
	if err := q.Enqueue(upsertOp("c2", "/a")); err == nil {
		t.Error("enqueue after shutdown should be rejected")
	}
}

func TestRateLimitedDrainLargerThanBurst(t *testing.T) {
	b := newFakeBackend()
	// Burst equals BatchSize; the drain below claims ten times that and must
	// still apply everything instead of erroring out of WaitN.
	q := testQueue(b, Options{BatchSize: 4, RatePerSecond: 1000})
	for i := 0; i < 40; i++ {
		if err := q.Enqueue(upsertOp(fmt.Sprintf("c%02d", i), "/a")); err != nil {
			t.Fatal(err)
		}
	}
	res, err := q.Drain(context.Background(), 40)
	if err != nil {
		t.Fatalf("rate-limited drain failed: %v", err)
	}
	if res.Applied != 40 {
		t.Errorf("applied %d of 40", res.Applied)
	}
	if got := q.Stats().Pending; got != 0 {
		t.Errorf("expected empty queue, %d pending", got)
	}
}

func TestBackoffDoublesFromFirstRetry(t *testing.T) {
	q := testQueue(newFakeBackend(), Options{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  500 * time.Millisecond,
	})
	if got := q.backoff(1); got != 200*time.Millisecond {
		t.Errorf("backoff(1) = %v, want 200ms", got)
	}
	if got := q.backoff(2); got != 400*time.Millisecond {
		t.Errorf("backoff(2) = %v, want 400ms", got)
	}
	if got := q.backoff(3); got != 500*time.Millisecond {
		t.Errorf("backoff(3) = %v, want the 500ms cap", got)
	}
}

func TestThresholdTriggersFlush(t *testing.T) {
	b := newFakeBackend()
	q := New(b, storage.NewMemory(), "queue/journal", Options{
		FlushInterval:    time.Hour, // only the threshold can trigger a drain
		PendingThreshold: 2,
	})
	if err := q.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer q.Shutdown(context.Background())

	q.Enqueue(upsertOp("c1", "/a"))
	q.Enqueue(upsertOp("c2", "/a"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(b.appliedOps()) == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("threshold crossing did not trigger a flush, applied %v", b.appliedOps())
}
