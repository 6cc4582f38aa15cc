package queue

import (
	"sort"

	"go.uber.org/zap"

	"noteweave/internal/storage"
)

// journalState is the crash-recovery snapshot written through the storage
// adapter. In-flight operations are journaled at the head of their owner's
// list so a crash mid-drain replays them.
type journalState struct {
	Owners map[string][]*Operation `json:"owners"`
	Failed []*FailedOperation      `json:"failed,omitempty"`
}

// persist writes the journal snapshot. persistMu keeps snapshots ordered so
// a slow write cannot be overtaken by a newer one and then clobber it.
func (q *PersistQueue) persist() error {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	state := journalState{Owners: make(map[string][]*Operation, len(q.owners))}
	for path, owner := range q.owners {
		if len(owner.inFlightOps) == 0 && len(owner.ops) == 0 {
			continue
		}
		ops := make([]*Operation, 0, len(owner.inFlightOps)+len(owner.ops))
		ops = append(ops, owner.inFlightOps...)
		ops = append(ops, owner.ops...)
		state.Owners[path] = ops
	}
	state.Failed = make([]*FailedOperation, len(q.failed))
	copy(state.Failed, q.failed)
	q.mu.Unlock()

	return storage.SaveSnapshot(q.adapter, q.journalPath, &state)
}

// recover loads the journal written by a previous process, restoring pending
// operations and the permanent-failure ledger.
func (q *PersistQueue) recover() error {
	var state journalState
	found, err := storage.LoadSnapshot(q.adapter, q.journalPath, &state)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	q.mu.Lock()
	recovered := 0
	paths := make([]string, 0, len(state.Owners))
	for path := range state.Owners {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		ops := state.Owners[path]
		if len(ops) == 0 {
			continue
		}
		owner := q.ownerLocked(path)
		owner.ops = append(owner.ops, ops...)
		q.pending += len(ops)
		recovered += len(ops)
	}
	q.failed = append(q.failed, state.Failed...)
	q.mu.Unlock()

	if q.logger != nil && (recovered > 0 || len(state.Failed) > 0) {
		q.logger.Info("recovered persist queue journal",
			zap.Int("pending", recovered),
			zap.Int("failed_permanently", len(state.Failed)))
	}
	return nil
}
