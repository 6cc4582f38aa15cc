// Package storage provides the durable storage adapter used for crash-recovery
// state (queue journal, concept index snapshots) and disk usage helpers.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Adapter is the read/write/exists contract for durable state. Read on a
// missing path returns an error satisfying os.IsNotExist; callers treat that
// as "no prior state", not a failure.
type Adapter interface {
	Exists(path string) (bool, error)
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
}

// Local is a filesystem-backed Adapter. Writes are atomic: data goes to a
// temp file in the same directory and is renamed into place.
type Local struct{}

// NewLocal creates a filesystem adapter.
func NewLocal() *Local {
	return &Local{}
}

// Exists reports whether path exists.
func (l *Local) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Read returns the contents of path.
func (l *Local) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Write writes data to path atomically, creating parent directories as needed.
func (l *Local) Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Memory is an in-memory Adapter for tests and ephemeral setups.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Exists reports whether path has been written.
func (m *Memory) Exists(path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[path]
	return ok, nil
}

// Read returns the stored bytes for path, or an os.IsNotExist error.
func (m *Memory) Read(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write stores a copy of data at path.
func (m *Memory) Write(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.blobs[path] = stored
	return nil
}
