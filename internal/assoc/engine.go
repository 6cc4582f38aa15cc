// Package assoc builds the concept inverted index and derives ranked,
// deduplicated note-to-note associations from shared concepts.
package assoc

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"noteweave/internal/models"
	"noteweave/internal/storage"
)

// ErrMalformedInput is returned for inputs the engine cannot index,
// such as an empty note id. Never retried.
var ErrMalformedInput = errors.New("malformed association input")

// ConceptIndex is an immutable concept → note-id inverted index built from a
// note → concepts mapping. A rebuild replaces the whole index or nothing.
type ConceptIndex struct {
	concepts  map[string][]string // concept → sorted owning note ids
	noteCount map[string]int      // note id → total concept count
	builtAt   time.Time
}

// Concepts returns the number of distinct concepts in the index.
func (ci *ConceptIndex) Concepts() int {
	return len(ci.concepts)
}

// Notes returns the number of distinct notes in the index.
func (ci *ConceptIndex) Notes() int {
	return len(ci.noteCount)
}

// BuiltAt returns when the index was built.
func (ci *ConceptIndex) BuiltAt() time.Time {
	return ci.builtAt
}

// NotesFor returns the sorted note ids tagged with concept.
func (ci *ConceptIndex) NotesFor(concept string) []string {
	notes := ci.concepts[concept]
	out := make([]string, len(notes))
	copy(out, notes)
	return out
}

// Options filters weak associations out of derivation results.
type Options struct {
	// MinSharedConcepts drops pairs sharing fewer concepts. Zero means 1.
	MinSharedConcepts int
	// MinConfidence drops pairs below this confidence.
	MinConfidence float64
	// MaxResults truncates the ranked output. Zero means unlimited.
	MaxResults int
}

// Engine owns the last built concept index and persists the source mapping
// through the storage adapter so the index survives restarts. Derivation is a
// pure function of an index; it never mutates engine state.
type Engine struct {
	adapter      storage.Adapter
	snapshotPath string
	logger       *zap.Logger

	mu    sync.RWMutex
	index *ConceptIndex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for rebuild and snapshot events.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine. adapter may be nil for a purely in-memory
// engine (no snapshot persistence).
func NewEngine(adapter storage.Adapter, snapshotPath string, opts ...EngineOption) *Engine {
	e := &Engine{adapter: adapter, snapshotPath: snapshotPath}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BuildIndex rebuilds the concept index from a note → concepts mapping and
// replaces the engine's current index atomically: on any error the previous
// index stays in place untouched. Duplicate concepts within a note count once.
func (e *Engine) BuildIndex(notesToConcepts map[string][]string) (*ConceptIndex, error) {
	index := &ConceptIndex{
		concepts:  make(map[string][]string),
		noteCount: make(map[string]int),
		builtAt:   time.Now(),
	}
	for noteID, concepts := range notesToConcepts {
		if noteID == "" {
			return nil, fmt.Errorf("%w: empty note id", ErrMalformedInput)
		}
		seen := make(map[string]struct{}, len(concepts))
		for _, concept := range concepts {
			if concept == "" {
				return nil, fmt.Errorf("%w: empty concept for note %q", ErrMalformedInput, noteID)
			}
			if _, dup := seen[concept]; dup {
				continue
			}
			seen[concept] = struct{}{}
			index.concepts[concept] = append(index.concepts[concept], noteID)
		}
		index.noteCount[noteID] = len(seen)
	}
	for concept := range index.concepts {
		sort.Strings(index.concepts[concept])
	}

	if e.adapter != nil {
		if err := storage.SaveSnapshot(e.adapter, e.snapshotPath, notesToConcepts); err != nil {
			return nil, fmt.Errorf("persist concept index snapshot: %w", err)
		}
	}

	e.mu.Lock()
	e.index = index
	e.mu.Unlock()
	if e.logger != nil {
		e.logger.Info("concept index rebuilt",
			zap.Int("notes", index.Notes()),
			zap.Int("concepts", index.Concepts()))
	}
	return index, nil
}

// Index returns the last built index, or nil if none has been built.
func (e *Engine) Index() *ConceptIndex {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index
}

// Restore loads the persisted note → concepts mapping and rebuilds the index
// from it. Returns false when no snapshot exists.
func (e *Engine) Restore() (bool, error) {
	if e.adapter == nil {
		return false, nil
	}
	var notesToConcepts map[string][]string
	found, err := storage.LoadSnapshot(e.adapter, e.snapshotPath, &notesToConcepts)
	if err != nil || !found {
		return false, err
	}
	if _, err := e.BuildIndex(notesToConcepts); err != nil {
		return false, err
	}
	return true, nil
}

// DeriveAssociations walks every concept with at least two owning notes,
// merges pair evidence across concepts (a pair sharing three concepts is one
// association with three shared concepts) and returns associations ranked by
// confidence, then canonical pair order. Confidence is the shared-concept
// count normalized by the smaller note's total concept count, clamped to [0,1].
// Safe to call repeatedly against the same index: equal inputs, equal output.
func DeriveAssociations(index *ConceptIndex, opts Options) []*models.NoteAssociation {
	if index == nil {
		return nil
	}
	minShared := opts.MinSharedConcepts
	if minShared < 1 {
		minShared = 1
	}

	type pairKey struct{ a, b string }
	shared := make(map[pairKey][]string)
	for concept, notes := range index.concepts {
		if len(notes) < 2 {
			continue
		}
		for i := 0; i < len(notes); i++ {
			for j := i + 1; j < len(notes); j++ {
				// notes is sorted, so the pair is already canonical.
				key := pairKey{a: notes[i], b: notes[j]}
				shared[key] = append(shared[key], concept)
			}
		}
	}

	associations := make([]*models.NoteAssociation, 0, len(shared))
	for key, concepts := range shared {
		if len(concepts) < minShared {
			continue
		}
		smaller := index.noteCount[key.a]
		if c := index.noteCount[key.b]; c < smaller {
			smaller = c
		}
		confidence := 0.0
		if smaller > 0 {
			confidence = float64(len(concepts)) / float64(smaller)
		}
		if confidence > 1 {
			confidence = 1
		}
		if confidence < opts.MinConfidence {
			continue
		}
		sort.Strings(concepts)
		associations = append(associations, &models.NoteAssociation{
			SourceNoteID:   key.a,
			TargetNoteID:   key.b,
			SharedConcepts: concepts,
			Confidence:     confidence,
			DiscoveredAt:   index.builtAt,
		})
	}

	sort.Slice(associations, func(i, j int) bool {
		if associations[i].Confidence != associations[j].Confidence {
			return associations[i].Confidence > associations[j].Confidence
		}
		if associations[i].SourceNoteID != associations[j].SourceNoteID {
			return associations[i].SourceNoteID < associations[j].SourceNoteID
		}
		return associations[i].TargetNoteID < associations[j].TargetNoteID
	})
	if opts.MaxResults > 0 && len(associations) > opts.MaxResults {
		associations = associations[:opts.MaxResults]
	}
	return associations
}
