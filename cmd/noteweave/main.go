// Package main is the noteweave CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"noteweave/internal/assoc"
	"noteweave/internal/cache"
	"noteweave/internal/cli"
	"noteweave/internal/config"
	"noteweave/internal/embedding"
	"noteweave/internal/models"
	"noteweave/internal/queue"
	"noteweave/internal/server"
	"noteweave/internal/service"
	"noteweave/internal/storage"
	"noteweave/internal/vector"
	"noteweave/internal/watcher"
	"noteweave/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/noteweave/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "index":
		runIndex()
	case "remove":
		runRemove()
	case "associations":
		runAssociations()
	case "status":
		runStatus()
	case "clear":
		runClear()
	case "version", "--version", "-v":
		fmt.Printf("noteweave version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (file events, queue drains, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	queueCtx, queueCancel := context.WithCancel(context.Background())
	defer queueCancel()
	if err := components.Queue.Start(queueCtx); err != nil {
		logger.Fatal("Failed to start persist queue", zap.Error(err))
	}
	if restored, err := components.Assoc.Restore(); err != nil {
		logger.Warn("association snapshot restore failed", zap.Error(err))
	} else if restored {
		logger.Info("association snapshot restored")
	}

	svc := components.Service
	exts := cfg.Watch.Extensions
	watchOpts := []watcher.Option{}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	var watchSvc *watcher.Watcher
	if len(cfg.Watch.Directories) > 0 {
		watchSvc = watcher.NewWatcher(
			cfg.Watch.Directories,
			exts,
			cfg.Watch.RecursiveOrDefault(),
			func(ev watcher.Event) {
				switch ev.Kind {
				case watcher.NoteChanged:
					if err := svc.IndexFile(context.Background(), ev.Path, exts); err != nil {
						logger.Warn("watch index note failed", zap.String("path", ev.Path), zap.Error(err))
					}
				case watcher.NoteRemoved:
					if err := svc.RemoveNote(context.Background(), ev.Path); err != nil {
						logger.Warn("watch remove note failed", zap.String("path", ev.Path), zap.Error(err))
					}
				}
			},
			watchOpts...,
		)
		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		watchSvc.SyncExistingFiles()
	}

	srv := server.NewServer(svc, watchSvc, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
	if err := components.Queue.Shutdown(ctx); err != nil {
		logger.Warn("queue shutdown incomplete", zap.Error(err))
	}
}

// buildSearchQuery joins all positional args with spaces so multi-word
// queries work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func parseOutputFormat(s string) (cli.OutputFormat, error) {
	switch s {
	case "json":
		return cli.OutputJSON, nil
	case "text", "":
		return cli.OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	limit := fs.Int("limit", 10, "number of results")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: noteweave search [flags] <query>")
		os.Exit(1)
	}
	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		fmt.Println("Usage: noteweave search [flags] <query>")
		os.Exit(1)
	}
	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	body, _ := json.Marshal(map[string]interface{}{"query": queryStr, "limit": *limit})
	resp, err := http.Post(*serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		fmt.Fprintf(os.Stderr, "Decode response failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, &response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: noteweave index [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		n, err := components.Service.IndexDirectory(ctx, path, cfg.Watch.Extensions)
		if err != nil {
			fmt.Printf("Indexing directory failed: %v\n", err)
			os.Exit(1)
		}
		if err := drainQueue(ctx, components.Queue); err != nil {
			fmt.Printf("Applying queued writes failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Indexed %d file(s) from %s\n", n, path)
		return
	}
	// Single file: no extension filter
	if err := components.Service.IndexFile(ctx, path, nil); err != nil {
		fmt.Printf("Indexing failed: %v\n", err)
		os.Exit(1)
	}
	if err := drainQueue(ctx, components.Queue); err != nil {
		fmt.Printf("Applying queued writes failed: %v\n", err)
		os.Exit(1)
	}
	absPath, _ := filepath.Abs(path)
	fmt.Printf("Note indexed successfully: %s\n", absPath)
}

// drainQueue applies pending operations until the queue is empty or stops
// making progress (everything left is backoff-gated or failed).
func drainQueue(ctx context.Context, q *queue.PersistQueue) error {
	for {
		result, err := q.Drain(ctx, 100)
		if err != nil {
			return err
		}
		if result.Applied == 0 {
			return nil
		}
	}
}

func runRemove() {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: noteweave remove [flags] <path>")
		os.Exit(1)
	}
	path, _ := filepath.Abs(fs.Arg(0))

	req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/notes?path="+url.QueryEscape(path), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Remove failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	fmt.Printf("Removed: %s\n", path)
}

func runAssociations() {
	fs := flag.NewFlagSet("associations", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	refresh := fs.Bool("refresh", false, "re-extract concepts before deriving")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	var resp *http.Response
	if *refresh {
		resp, err = http.Post(*serverURL+"/api/v1/associations/refresh", "application/json", nil)
	} else {
		resp, err = http.Get(*serverURL + "/api/v1/associations")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		Associations []*models.NoteAssociation `json:"associations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Decode response failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteAssociations(os.Stdout, out.Associations, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/stats")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		Stats              *service.Stats `json:"stats"`
		WatchedDirectories []string       `json:"watched_directories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Decode response failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		s := out.Stats
		if s == nil {
			fmt.Println("no stats returned")
			os.Exit(1)
		}
		fmt.Printf("backend:            %s\n", s.Backend.Backend)
		fmt.Printf("items:              %d   # chunks in the vector store\n", s.Backend.TotalItems)
		fmt.Printf("cached_chunks:      %d\n", s.CachedChunks)
		fmt.Printf("cache_bytes:        %d / %d\n", s.CacheBytes, s.CacheMaxBytes)
		fmt.Printf("queue_pending:      %d\n", s.Queue.Pending)
		fmt.Printf("queue_in_flight:    %d\n", s.Queue.InFlight)
		fmt.Printf("queue_failed:       %d\n", s.Queue.FailedPermanently)
		fmt.Printf("indexed_notes:      %d   # notes in the concept index\n", s.IndexedNotes)
		fmt.Printf("concepts:           %d\n", s.Concepts)
		fmt.Printf("disk_usage_bytes:   %d\n", s.DiskUsageBytes)
		if len(out.WatchedDirectories) > 0 {
			fmt.Println()
			fmt.Println("# watched directories")
			for _, d := range out.WatchedDirectories {
				fmt.Println(d)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runClear() {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	yes := fs.Bool("yes", false, "skip confirmation")
	_ = fs.Parse(os.Args[2:])

	if !*yes {
		fmt.Print("This removes every indexed note. Continue? [y/N] ")
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}
	req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/notes/all", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Clear failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	fmt.Println("Cleared.")
}

// Components holds initialized services.
type Components struct {
	Backend  vector.Backend
	Provider embedding.Provider
	Queue    *queue.PersistQueue
	Assoc    *assoc.Engine
	Service  *service.Service
}

func (c *Components) Close() {
	if c.Backend != nil {
		_ = c.Backend.Close()
	}
	if c.Provider != nil {
		_ = c.Provider.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	schema := vector.Schema{
		models.VectorContent: cfg.Embedding.Dimensions,
		models.VectorSummary: cfg.Embedding.Dimensions,
		models.VectorTitle:   cfg.Embedding.Dimensions,
	}
	backend, err := vector.NewBackend(cfg.Storage.Backend, schema, cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector backend: %w", err)
	}

	var provider embedding.Provider = embedding.NewOllamaProvider(
		cfg.Embedding.OllamaURL,
		cfg.Embedding.Model,
		cfg.Embedding.ExtractModel,
		cfg.Embedding.Dimensions,
	)
	if cfg.Embedding.CacheSize > 0 {
		provider = embedding.NewCachingProvider(provider, cfg.Embedding.CacheSize)
	}

	adapter := storage.NewLocal()
	qopts := []queue.QueueOption{}
	if debug && logger != nil {
		qopts = append(qopts, queue.WithLogger(logger))
	}
	q := queue.New(backend, adapter, cfg.Storage.JournalPath, queue.Options{
		BatchSize:        cfg.Queue.BatchSize,
		FlushInterval:    cfg.Queue.FlushInterval,
		PendingThreshold: cfg.Queue.PendingThreshold,
		BaseDelay:        cfg.Queue.BaseDelay,
		MaxDelay:         cfg.Queue.MaxDelay,
		MaxRetries:       cfg.Queue.MaxRetries,
		RatePerSecond:    cfg.Queue.RatePerSecond,
	}, qopts...)

	assocOpts := []assoc.EngineOption{}
	if debug && logger != nil {
		assocOpts = append(assocOpts, assoc.WithLogger(logger))
	}
	assocEngine := assoc.NewEngine(adapter, cfg.Storage.AssociationsPath, assocOpts...)

	cacheOpts := []cache.Option{}
	if debug && logger != nil {
		cacheOpts = append(cacheOpts, cache.WithLogger(logger))
	}
	chunkCache := cache.NewChunkCache(cfg.Cache.MaxSizeBytes, cacheOpts...)

	svcOpts := []service.ServiceOption{}
	if debug && logger != nil {
		svcOpts = append(svcOpts, service.WithLogger(logger))
	}
	svc := service.New(chunkCache, backend, q, provider, assocEngine, cfg, svcOpts...)

	if logger != nil {
		logger.Info("components initialized",
			zap.String("backend", cfg.Storage.Backend),
			zap.Int("dimensions", cfg.Embedding.Dimensions))
	}

	return &Components{
		Backend:  backend,
		Provider: provider,
		Queue:    q,
		Assoc:    assocEngine,
		Service:  svc,
	}, nil
}

func printUsage() {
	fmt.Println(`noteweave - Semantic note indexing and association discovery

Usage:
  noteweave server [flags]              Start the HTTP server
  noteweave search [flags] <query>      Search notes (fused multi-vector ranking)
  noteweave index [flags] <path>        Index a note file or directory
  noteweave remove [flags] <path>       Remove a note by path
  noteweave associations [flags]        Show derived note associations
  noteweave status [flags]              Show backend/cache/queue status
  noteweave clear [flags]               Remove every indexed note
  noteweave version                     Show version
  noteweave help                        Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/noteweave/config.yaml)
  --debug            Enable debug logging (file events, queue drains, etc.)

Search Flags:
  --server string    Server URL (default: http://localhost:8080)
  --limit int        Number of results (default: 10)
  --output string    Output format: text or json (default: text)

Index Flags:
  --config string    Config file path

Associations Flags:
  --server string    Server URL (default: http://localhost:8080)
  --refresh          Re-extract concepts before deriving
  --output string    Output format: text or json (default: text)

Examples:
  noteweave server
  noteweave index ~/notes
  noteweave search "distributed consensus"
  noteweave associations --refresh
  noteweave status --output json
  noteweave remove ~/notes/old.md`)
}
