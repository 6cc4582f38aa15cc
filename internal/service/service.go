// Package service wires the chunk cache, persist queue, vector backend,
// embedding provider, and association engine into the note indexing and
// search operations the server exposes.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"noteweave/internal/assoc"
	"noteweave/internal/cache"
	"noteweave/internal/chunker"
	"noteweave/internal/config"
	"noteweave/internal/embedding"
	"noteweave/internal/fileid"
	"noteweave/internal/models"
	"noteweave/internal/queue"
	"noteweave/internal/vector"
)

// Service orchestrates note indexing, search, and association discovery.
type Service struct {
	cache    *cache.ChunkCache
	backend  vector.Backend
	queue    *queue.PersistQueue
	provider embedding.Provider
	assoc    *assoc.Engine
	chunker  *chunker.Chunker
	cfg      *config.Config
	logger   *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a logger for indexing and search events.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// New creates a service with the given dependencies.
func New(
	chunkCache *cache.ChunkCache,
	backend vector.Backend,
	persistQueue *queue.PersistQueue,
	provider embedding.Provider,
	assocEngine *assoc.Engine,
	cfg *config.Config,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		cache:    chunkCache,
		backend:  backend,
		queue:    persistQueue,
		provider: provider,
		assoc:    assocEngine,
		chunker:  chunker.NewChunker(cfg.Search.ChunkSize),
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IndexNote chunks and embeds content, replaces the note's cache entries,
// and enqueues the backend writes. Returns the number of chunks produced.
// Chunks no longer present after re-chunking are enqueued for deletion.
func (s *Service) IndexNote(ctx context.Context, path, content string) (int, error) {
	path = filepath.Clean(path)
	pieces := s.chunker.Chunk(content)
	if len(pieces) == 0 {
		return 0, s.RemoveNote(ctx, path)
	}

	// One batch embeds all three texts of every piece: content, summary, title.
	texts := make([]string, 0, len(pieces)*3)
	for _, p := range pieces {
		texts = append(texts, p.Content, p.Summary(), p.Title())
	}
	embeddings, err := s.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed note %s: %w", path, err)
	}

	chunks := make([]*models.Chunk, len(pieces))
	newIDs := make(map[string]bool, len(pieces))
	for i, p := range pieces {
		c := &models.Chunk{
			ID:        fileid.ChunkID(path, i),
			OwnerPath: path,
			Content:   p.Content,
			Vectors: map[models.VectorName][]float32{
				models.VectorContent: embeddings[i*3],
				models.VectorSummary: embeddings[i*3+1],
				models.VectorTitle:   embeddings[i*3+2],
			},
		}
		c.SizeBytes = models.EstimateSize(c)
		chunks[i] = c
		newIDs[c.ID] = true
	}

	staleIDs := s.staleChunkIDs(ctx, path, newIDs)

	s.cache.DeleteByOwner(path)
	for _, c := range chunks {
		s.cache.Set(c.ID, c)
		if err := s.queue.Enqueue(&queue.Operation{Chunk: c, Op: queue.OpUpsert}); err != nil {
			return 0, fmt.Errorf("enqueue upsert %s: %w", c.ID, err)
		}
	}
	for _, id := range staleIDs {
		op := &queue.Operation{
			Chunk: &models.Chunk{ID: id, OwnerPath: path},
			Op:    queue.OpDelete,
		}
		if err := s.queue.Enqueue(op); err != nil {
			return 0, fmt.Errorf("enqueue delete %s: %w", id, err)
		}
	}

	s.logger.Debug("note indexed",
		zap.String("path", path),
		zap.Int("chunks", len(chunks)),
		zap.Int("stale", len(staleIDs)))
	return len(chunks), nil
}

// staleChunkIDs returns the backend's chunk ids for path that are not in
// newIDs. A backend read failure only skips stale cleanup; re-indexing still
// replaces the surviving ids.
func (s *Service) staleChunkIDs(ctx context.Context, path string, newIDs map[string]bool) []string {
	existing, err := s.backend.IDsByOwner(ctx, path)
	if err != nil {
		s.logger.Warn("stale chunk lookup failed", zap.String("path", path), zap.Error(err))
		return nil
	}
	var stale []string
	for _, id := range existing {
		if !newIDs[id] {
			stale = append(stale, id)
		}
	}
	return stale
}

// IndexFile reads the file at path and indexes it. If allowedExts is
// non-empty the file's extension must be in the list (case-insensitive).
func (s *Service) IndexFile(ctx context.Context, path string, allowedExts []string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", absPath)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	_, err = s.IndexNote(ctx, absPath, string(content))
	return err
}

// IndexDirectory walks dir recursively and indexes each regular file whose
// extension is in allowedExts (if non-empty; otherwise all files). Returns
// the number of files indexed.
func (s *Service) IndexDirectory(ctx context.Context, dir string, allowedExts []string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
			return nil
		}
		// Resolve symlinks so we only index regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil {
			return nil
		}
		if !finfo.Mode().IsRegular() {
			return nil
		}
		if indexErr := s.IndexFile(ctx, path, allowedExts); indexErr != nil {
			return indexErr
		}
		n++
		return nil
	})
	return n, err
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// RemoveNote drops the note's chunks from the cache and enqueues backend
// deletes for every chunk id the backend holds for the path.
func (s *Service) RemoveNote(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	removed := s.cache.DeleteByOwner(path)

	ids, err := s.backend.IDsByOwner(ctx, path)
	if err != nil {
		return fmt.Errorf("list chunks for %s: %w", path, err)
	}
	for _, id := range ids {
		op := &queue.Operation{
			Chunk: &models.Chunk{ID: id, OwnerPath: path},
			Op:    queue.OpDelete,
		}
		if err := s.queue.Enqueue(op); err != nil {
			return fmt.Errorf("enqueue delete %s: %w", id, err)
		}
	}

	s.logger.Debug("note removed",
		zap.String("path", path),
		zap.Int("cached_chunks", removed),
		zap.Int("backend_chunks", len(ids)))
	return nil
}

// Search embeds the query once and fuses ranked results from the content,
// summary, and title vector spaces with the configured weights.
func (s *Service) Search(ctx context.Context, query string, limit int) (*models.SearchResponse, error) {
	startTime := time.Now()
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	if limit <= 0 {
		limit = s.cfg.Search.DefaultLimit
	}
	if limit > s.cfg.Search.MaxLimit {
		limit = s.cfg.Search.MaxLimit
	}

	queryVec, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	queries := map[models.VectorName]vector.FusedQuery{
		models.VectorContent: {Vector: queryVec, Weight: s.cfg.Search.ContentWeight},
		models.VectorSummary: {Vector: queryVec, Weight: s.cfg.Search.SummaryWeight},
		models.VectorTitle:   {Vector: queryVec, Weight: s.cfg.Search.TitleWeight},
	}
	results, degraded, err := vector.SearchFused(ctx, s.backend, queries, limit, vector.FusionOptions{
		Kappa:               s.cfg.Search.Kappa,
		CandidateMultiplier: s.cfg.Search.CandidateMultiplier,
	})
	if err != nil {
		return nil, err
	}
	if degraded {
		s.logger.Warn("search degraded", zap.String("query", query))
	}

	return &models.SearchResponse{
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(startTime).Milliseconds(),
		Query:     query,
		Degraded:  degraded,
	}, nil
}

// RefreshAssociations extracts concepts for every cached note and rebuilds
// the concept index. Returns the freshly derived associations.
func (s *Service) RefreshAssociations(ctx context.Context) ([]*models.NoteAssociation, error) {
	notesToConcepts := make(map[string][]string)
	for _, c := range s.cache.GetAll() {
		noteID := fileid.NoteID(c.OwnerPath)
		if _, done := notesToConcepts[noteID]; done {
			continue
		}
		var parts []string
		for _, oc := range s.cache.GetByOwner(c.OwnerPath) {
			parts = append(parts, oc.Content)
		}
		concepts, err := s.provider.ExtractConcepts(ctx, strings.Join(parts, "\n\n"))
		if err != nil {
			return nil, fmt.Errorf("extract concepts for %s: %w", c.OwnerPath, err)
		}
		if len(concepts) == 0 {
			continue
		}
		notesToConcepts[noteID] = concepts
	}
	if len(notesToConcepts) == 0 {
		return nil, nil
	}

	index, err := s.assoc.BuildIndex(notesToConcepts)
	if err != nil {
		return nil, err
	}
	s.logger.Info("concept index rebuilt",
		zap.Int("notes", index.Notes()),
		zap.Int("concepts", index.Concepts()))
	return assoc.DeriveAssociations(index, s.associationOptions()), nil
}

// Associations derives associations from the last built concept index
// without re-extracting concepts. Returns nil when no index exists yet.
func (s *Service) Associations() []*models.NoteAssociation {
	index := s.assoc.Index()
	if index == nil {
		return nil
	}
	return assoc.DeriveAssociations(index, s.associationOptions())
}

func (s *Service) associationOptions() assoc.Options {
	return assoc.Options{
		MinSharedConcepts: s.cfg.Associations.MinSharedConcepts,
		MinConfidence:     s.cfg.Associations.MinConfidence,
		MaxResults:        s.cfg.Associations.MaxResults,
	}
}

// Clear empties the cache and the vector backend. Queued operations already
// in flight still drain; their upserts simply repopulate nothing new.
func (s *Service) Clear(ctx context.Context) error {
	s.cache.Clear()
	if err := s.backend.Clear(ctx); err != nil {
		return fmt.Errorf("clear backend: %w", err)
	}
	s.logger.Info("all indexed notes cleared")
	return nil
}

// Health checks the embedding provider.
func (s *Service) Health(ctx context.Context) error {
	return s.provider.Health(ctx)
}
