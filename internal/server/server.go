// Package server provides the HTTP API for noteweave.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"noteweave/internal/config"
	"noteweave/internal/service"
	"noteweave/internal/watcher"
)

// Server is the HTTP server for the noteweave API.
type Server struct {
	svc    *service.Service
	watch  *watcher.Watcher // nil when watching is disabled
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies. watch may be nil.
func NewServer(
	svc *service.Service,
	watch *watcher.Watcher,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		svc:    svc,
		watch:  watch,
		config: cfg,
		logger: logger,
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/notes", s.handleIndexNote)
	r.Delete("/api/v1/notes", s.handleRemoveNote)
	r.Post("/api/v1/search", s.handleSearch)
	r.Get("/api/v1/associations", s.handleAssociations)
	r.Post("/api/v1/associations/refresh", s.handleRefreshAssociations)
	r.Get("/api/v1/stats", s.handleStats)
	r.Post("/api/v1/watch/directories", s.handleAddWatchDirectory)
	r.Delete("/api/v1/watch/directories", s.handleRemoveWatchDirectory)
	r.Delete("/api/v1/notes/all", s.handleClear)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
