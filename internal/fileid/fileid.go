// Package fileid provides deterministic note and chunk IDs from a file path.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

const prefix = "note:"

// NoteID returns a stable note ID for the given absolute path.
// Same path always yields the same ID. Used for index/update/delete by path.
func NoteID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}

// ChunkID returns the ID of the index-th chunk of the note at absolutePath.
// Stable for a given path and position, so re-indexing replaces rather than
// duplicates.
func ChunkID(absolutePath string, index int) string {
	return fmt.Sprintf("%s_%d", NoteID(absolutePath), index)
}
