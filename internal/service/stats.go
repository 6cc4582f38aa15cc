package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"noteweave/internal/queue"
	"noteweave/internal/storage"
	"noteweave/internal/vector"
)

// Stats aggregates the state of every layer for the status endpoint.
type Stats struct {
	Backend        *vector.Stats `json:"backend"`
	Queue          queue.Stats   `json:"queue"`
	CachedChunks   int           `json:"cached_chunks"`
	CacheBytes     int           `json:"cache_bytes"`
	CacheMaxBytes  int           `json:"cache_max_bytes"`
	IndexedNotes   int           `json:"indexed_notes"`
	Concepts       int           `json:"concepts"`
	DiskUsageBytes int64         `json:"disk_usage_bytes"`
}

// Stats reports backend, queue, cache, and on-disk state.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	backendStats, err := s.backend.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("backend stats: %w", err)
	}

	stats := &Stats{
		Backend:       backendStats,
		Queue:         s.queue.Stats(),
		CachedChunks:  s.cache.Size(),
		CacheBytes:    s.cache.CurrentSizeBytes(),
		CacheMaxBytes: s.cache.MaxSizeBytes(),
	}
	if index := s.assoc.Index(); index != nil {
		stats.IndexedNotes = index.Notes()
		stats.Concepts = index.Concepts()
	}

	usage, err := storage.DiskUsageBytes(
		s.cfg.Storage.DatabasePath,
		s.cfg.Storage.JournalPath,
		s.cfg.Storage.AssociationsPath,
	)
	if err != nil {
		s.logger.Warn("disk usage unavailable", zap.Error(err))
	}
	stats.DiskUsageBytes = usage
	return stats, nil
}
