package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/noteweave/data/vectors.db"
	}
	if cfg.Storage.JournalPath == "" {
		cfg.Storage.JournalPath = "/usr/local/var/noteweave/data/queue.journal"
	}
	if cfg.Storage.AssociationsPath == "" {
		cfg.Storage.AssociationsPath = "/usr/local/var/noteweave/data/associations.snapshot"
	}
	if cfg.Embedding.OllamaURL == "" {
		cfg.Embedding.OllamaURL = "http://localhost:11434"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.ExtractModel == "" {
		cfg.Embedding.ExtractModel = "llama3.2"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Cache.MaxSizeBytes == 0 {
		cfg.Cache.MaxSizeBytes = 64 * 1024 * 1024
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 32
	}
	if cfg.Queue.FlushInterval == 0 {
		cfg.Queue.FlushInterval = 2 * time.Second
	}
	if cfg.Queue.PendingThreshold == 0 {
		cfg.Queue.PendingThreshold = 64
	}
	if cfg.Queue.BaseDelay == 0 {
		cfg.Queue.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Queue.MaxDelay == 0 {
		cfg.Queue.MaxDelay = time.Minute
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 5
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.ChunkSize == 0 {
		cfg.Search.ChunkSize = 800
	}
	if cfg.Search.Kappa == 0 {
		cfg.Search.Kappa = 60
	}
	if cfg.Search.CandidateMultiplier == 0 {
		cfg.Search.CandidateMultiplier = 3
	}
	if cfg.Search.ContentWeight == 0 && cfg.Search.SummaryWeight == 0 && cfg.Search.TitleWeight == 0 {
		cfg.Search.ContentWeight = 0.4
		cfg.Search.SummaryWeight = 0.4
		cfg.Search.TitleWeight = 0.2
	}
	if cfg.Associations.MinSharedConcepts == 0 {
		cfg.Associations.MinSharedConcepts = 1
	}
	if cfg.Associations.MaxResults == 0 {
		cfg.Associations.MaxResults = 100
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".md", ".markdown", ".txt"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
