package models

import "time"

// NoteAssociation is an undirected relationship between two notes that share
// at least one concept. SourceNoteID is always lexically smaller than
// TargetNoteID so (A,B) and (B,A) never both exist.
type NoteAssociation struct {
	SourceNoteID   string    `json:"source_note_id"`
	TargetNoteID   string    `json:"target_note_id"`
	SharedConcepts []string  `json:"shared_concepts"`
	Confidence     float64   `json:"confidence"`
	DiscoveredAt   time.Time `json:"discovered_at"`
}
