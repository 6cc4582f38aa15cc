package vector

import "fmt"

// BackendType selects a vector backend implementation.
type BackendType string

const (
	// BackendMemory keeps items in process memory with brute-force search.
	// Good for tests and small corpora.
	BackendMemory BackendType = "memory"
	// BackendSQLiteVec persists items in SQLite via the sqlite-vec extension.
	BackendSQLiteVec BackendType = "sqlite"
)

// NewBackend creates a backend of the given type. dbPath is only used by the
// sqlite backend. Supported types: "memory" (default), "sqlite".
func NewBackend(backendType string, schema Schema, dbPath string) (Backend, error) {
	switch BackendType(backendType) {
	case BackendMemory, "":
		return NewMemoryBackend(schema)
	case BackendSQLiteVec:
		return NewSQLiteVecBackend(dbPath, schema)
	default:
		return nil, fmt.Errorf("unknown backend type: %s (supported: memory, sqlite)", backendType)
	}
}
