// Package queue provides the durable persist queue that buffers chunk
// operations on their way to the vector backend, with batched drains,
// exponential backoff, and crash recovery via a journal snapshot.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"noteweave/internal/models"
	"noteweave/internal/storage"
	"noteweave/internal/vector"
)

// OpType distinguishes persist operations.
type OpType string

const (
	// OpUpsert writes the chunk's vectors to the backend.
	OpUpsert OpType = "upsert"
	// OpDelete removes the chunk from the backend.
	OpDelete OpType = "delete"
)

// Operation is one pending chunk write. It stays in the queue until durably
// applied to the backend or permanently failed past the retry ceiling.
type Operation struct {
	Chunk      *models.Chunk `json:"chunk"`
	Op         OpType        `json:"op"`
	Attempt    int           `json:"attempt"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	// NotBefore gates retry eligibility; a retried operation is only
	// drainable again once its backoff window has elapsed.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// FailedOperation is an operation that exceeded the retry ceiling or failed
// validation. Retained for inspection, never retried. Each entry gets its own
// id so individual failures can be referenced across restarts and log lines.
type FailedOperation struct {
	ID        string     `json:"id"`
	Operation *Operation `json:"operation"`
	Reason    string     `json:"reason"`
	FailedAt  time.Time  `json:"failed_at"`
}

// Stats reports queue liveness.
type Stats struct {
	Pending           int `json:"pending"`
	InFlight          int `json:"in_flight"`
	FailedPermanently int `json:"failed_permanently"`
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Applied int // durably applied and removed
	Retried int // failed transiently, returned to the owner's head with backoff
	Failed  int // moved to the permanent-failure ledger during this pass
}

// Options configures a PersistQueue. Zero values fall back to defaults.
type Options struct {
	BatchSize        int
	FlushInterval    time.Duration
	PendingThreshold int           // pending count that triggers an early flush
	BaseDelay        time.Duration // first retry backoff
	MaxDelay         time.Duration // backoff cap
	MaxRetries       int
	RatePerSecond    float64 // 0 disables drain rate limiting
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 2 * time.Second
	}
	if o.PendingThreshold <= 0 {
		o.PendingThreshold = 64
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = time.Minute
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
}

// ownerQueue holds one owner's operations in arrival order. At most one drain
// may have an owner's operations in flight at a time; the claimed prefix is
// kept in inFlightOps so journal snapshots written mid-drain still cover it
// (replay after a crash is safe because upsert and delete are idempotent).
type ownerQueue struct {
	ops         []*Operation
	inFlightOps []*Operation
}

// claim is one owner's share of a drain batch.
type claim struct {
	ops   []*Operation
	owner *ownerQueue
}

// PersistQueue is the single source of truth for whether a chunk is durably
// searchable: a chunk is unsearchable until its operation leaves the queue
// successfully. Explicit lifecycle: construct, Start, Shutdown.
type PersistQueue struct {
	backend     vector.Backend
	adapter     storage.Adapter
	journalPath string
	opts        Options
	logger      *zap.Logger
	limiter     *rate.Limiter

	mu        sync.Mutex
	persistMu sync.Mutex // serializes journal writes

	owners  map[string]*ownerQueue
	pending int
	flight  int
	failed  []*FailedOperation

	notify   chan struct{}
	done     chan struct{}
	loopWG   sync.WaitGroup
	drainWG  sync.WaitGroup
	started  bool
	shutdown bool
}

// QueueOption configures a PersistQueue.
type QueueOption func(*PersistQueue)

// WithLogger sets a logger for drain and recovery events.
func WithLogger(l *zap.Logger) QueueOption {
	return func(q *PersistQueue) { q.logger = l }
}

// New creates a queue draining into backend, journaling through adapter at
// journalPath. Call Start to recover the journal and begin periodic flushes.
func New(backend vector.Backend, adapter storage.Adapter, journalPath string, opts Options, qopts ...QueueOption) *PersistQueue {
	opts.applyDefaults()
	q := &PersistQueue{
		backend:     backend,
		adapter:     adapter,
		journalPath: journalPath,
		opts:        opts,
		owners:      make(map[string]*ownerQueue),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	if opts.RatePerSecond > 0 {
		burst := opts.BatchSize
		q.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	for _, opt := range qopts {
		opt(q)
	}
	return q
}

// Start recovers pending state from the journal and launches the flush loop.
func (q *PersistQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	q.mu.Unlock()

	if err := q.recover(); err != nil {
		return fmt.Errorf("recover journal: %w", err)
	}
	q.loopWG.Add(1)
	go q.flushLoop(ctx)
	return nil
}

func (q *PersistQueue) flushLoop(ctx context.Context) {
	defer q.loopWG.Done()
	ticker := time.NewTicker(q.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case <-ticker.C:
		case <-q.notify:
		}
		if _, err := q.Drain(ctx, q.opts.BatchSize); err != nil && q.logger != nil {
			q.logger.Warn("periodic drain failed", zap.Error(err))
		}
	}
}

// Enqueue appends an operation to its owner's queue. Operations for an owner
// whose earlier batch is mid-drain land after the in-flight items, never
// interleaved with them.
func (q *PersistQueue) Enqueue(op *Operation) error {
	if op == nil || op.Chunk == nil || op.Chunk.ID == "" {
		return errors.New("operation must reference a chunk with an id")
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now()
	}
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return errors.New("queue is shut down")
	}
	owner := q.ownerLocked(op.Chunk.OwnerPath)
	owner.ops = append(owner.ops, op)
	q.pending++
	overThreshold := q.pending >= q.opts.PendingThreshold
	q.mu.Unlock()

	if err := q.persist(); err != nil {
		return fmt.Errorf("journal enqueue: %w", err)
	}
	if overThreshold {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

func (q *PersistQueue) ownerLocked(path string) *ownerQueue {
	owner, ok := q.owners[path]
	if !ok {
		owner = &ownerQueue{}
		q.owners[path] = owner
	}
	return owner
}

// Drain pulls up to batchSize eligible operations and submits them to the
// backend. Owners with operations already in flight are skipped, so the same
// operation is never double-submitted. Per-owner order is preserved: only an
// eligible prefix of each owner's queue is taken, and transiently failed
// operations return to their owner's head with backoff.
func (q *PersistQueue) Drain(ctx context.Context, batchSize int) (DrainResult, error) {
	var result DrainResult
	if batchSize <= 0 {
		batchSize = q.opts.BatchSize
	}

	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return result, errors.New("queue is shut down")
	}
	now := time.Now()
	paths := make([]string, 0, len(q.owners))
	for path := range q.owners {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var claims []claim
	taken := 0
	for _, path := range paths {
		if taken >= batchSize {
			break
		}
		owner := q.owners[path]
		if len(owner.inFlightOps) > 0 || len(owner.ops) == 0 {
			continue
		}
		// Only a prefix may be taken; a backoff-gated head blocks the whole
		// owner so order can never invert across retries.
		n := 0
		for n < len(owner.ops) && taken+n < batchSize {
			if owner.ops[n].NotBefore.After(now) {
				break
			}
			n++
		}
		if n == 0 {
			continue
		}
		ops := owner.ops[:n]
		owner.ops = owner.ops[n:]
		owner.inFlightOps = ops
		q.pending -= n
		q.flight += n
		taken += n
		claims = append(claims, claim{ops: ops, owner: owner})
	}
	q.drainWG.Add(1)
	q.mu.Unlock()
	defer q.drainWG.Done()

	if taken == 0 {
		return result, nil
	}
	if q.limiter != nil {
		// WaitN rejects requests above the burst outright, so a drain larger
		// than the burst pays for its claims in burst-sized installments.
		for remaining := taken; remaining > 0; {
			n := remaining
			if burst := q.limiter.Burst(); n > burst {
				n = burst
			}
			if err := q.limiter.WaitN(ctx, n); err != nil {
				// Treat an expired wait like a transient backend failure for
				// every claimed op: requeue all with no attempt increment.
				q.requeueAll(claims)
				return result, err
			}
			remaining -= n
		}
	}

	for _, cl := range claims {
		var retried []*Operation
		for i, op := range cl.ops {
			if len(retried) > 0 {
				// An earlier op for this owner failed; later ops must not
				// overtake it. Requeue them untouched behind the failed one.
				retried = append(retried, cl.ops[i:]...)
				break
			}
			err := q.submit(ctx, op)
			if err == nil {
				result.Applied++
				continue
			}
			if isValidation(err) {
				q.failPermanently(op, err)
				result.Failed++
				continue
			}
			op.Attempt++
			if op.Attempt > q.opts.MaxRetries {
				q.failPermanently(op, err)
				result.Failed++
				continue
			}
			op.NotBefore = time.Now().Add(q.backoff(op.Attempt))
			retried = append(retried, op)
			result.Retried++
			if q.logger != nil {
				q.logger.Warn("persist operation failed, will retry",
					zap.String("chunk_id", op.Chunk.ID),
					zap.Int("attempt", op.Attempt),
					zap.Time("not_before", op.NotBefore),
					zap.Error(err))
			}
		}
		q.mu.Lock()
		cl.owner.ops = append(retried, cl.owner.ops...)
		q.pending += len(retried)
		q.flight -= len(cl.ops)
		cl.owner.inFlightOps = nil
		q.mu.Unlock()
	}

	if err := q.persist(); err != nil {
		return result, fmt.Errorf("journal drain: %w", err)
	}
	return result, nil
}

// requeueAll returns every claimed op to its owner's head unchanged.
func (q *PersistQueue) requeueAll(claims []claim) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, cl := range claims {
		cl.owner.ops = append(cl.ops, cl.owner.ops...)
		q.pending += len(cl.ops)
		q.flight -= len(cl.ops)
		cl.owner.inFlightOps = nil
	}
}

func (q *PersistQueue) submit(ctx context.Context, op *Operation) error {
	switch op.Op {
	case OpUpsert:
		return q.backend.Upsert(ctx, models.ItemFromChunk(op.Chunk))
	case OpDelete:
		return q.backend.Delete(ctx, op.Chunk.ID)
	default:
		return fmt.Errorf("%w: %q", errUnknownOp, op.Op)
	}
}

func (q *PersistQueue) failPermanently(op *Operation, cause error) {
	entry := &FailedOperation{
		ID:        uuid.New().String(),
		Operation: op,
		Reason:    cause.Error(),
		FailedAt:  time.Now(),
	}
	q.mu.Lock()
	q.failed = append(q.failed, entry)
	q.mu.Unlock()
	if q.logger != nil {
		q.logger.Error("persist operation permanently failed",
			zap.String("failure_id", entry.ID),
			zap.String("chunk_id", op.Chunk.ID),
			zap.String("owner", op.Chunk.OwnerPath),
			zap.Int("attempts", op.Attempt),
			zap.Error(cause))
	}
}

// errUnknownOp marks a malformed queued operation. Never retried.
var errUnknownOp = errors.New("unknown op type")

// isValidation reports whether err is a malformed-input failure that must
// never be retried.
func isValidation(err error) bool {
	return errors.Is(err, vector.ErrDimensionMismatch) ||
		errors.Is(err, vector.ErrUnknownVectorName) ||
		errors.Is(err, errUnknownOp)
}

// backoff returns baseDelay * 2^attempt, capped at MaxDelay.
func (q *PersistQueue) backoff(attempt int) time.Duration {
	delay := q.opts.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= q.opts.MaxDelay {
			return q.opts.MaxDelay
		}
	}
	if delay > q.opts.MaxDelay {
		delay = q.opts.MaxDelay
	}
	return delay
}

// Stats returns current queue depths.
func (q *PersistQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:           q.pending,
		InFlight:          q.flight,
		FailedPermanently: len(q.failed),
	}
}

// Failed returns the permanent-failure ledger for inspection.
func (q *PersistQueue) Failed() []*FailedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*FailedOperation, len(q.failed))
	copy(out, q.failed)
	return out
}

// Shutdown stops the flush loop, waits for any in-flight drain to finish,
// and journals remaining state. Pending operations are not discarded; they
// stay in the journal for recovery on the next Start.
func (q *PersistQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return nil
	}
	q.shutdown = true
	started := q.started
	q.mu.Unlock()

	if started {
		close(q.done)
		q.loopWG.Wait()
	}
	// Let any drain already past the shutdown check complete cleanly.
	done := make(chan struct{})
	go func() {
		q.drainWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return q.persist()
}
