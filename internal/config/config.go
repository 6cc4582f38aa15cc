// Package config provides configuration loading and structs for the noteweave server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug        bool               `yaml:"debug"`
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Cache        CacheConfig        `yaml:"cache"`
	Queue        QueueConfig        `yaml:"queue"`
	Search       SearchConfig       `yaml:"search"`
	Associations AssociationsConfig `yaml:"associations"`
	Watch        WatchConfig        `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the vector database and snapshots.
type StorageConfig struct {
	// Backend selects the vector backend: "sqlite" or "memory".
	Backend          string `yaml:"backend"`
	DatabasePath     string `yaml:"database_path"`
	JournalPath      string `yaml:"journal_path"`
	AssociationsPath string `yaml:"associations_path"`
}

// EmbeddingConfig holds Ollama embedder settings.
type EmbeddingConfig struct {
	OllamaURL    string `yaml:"ollama_url"`
	Model        string `yaml:"model"`
	ExtractModel string `yaml:"extract_model"`
	Dimensions   int    `yaml:"dimensions"`
	CacheSize    int    `yaml:"cache_size"`
}

// CacheConfig holds chunk cache settings.
type CacheConfig struct {
	MaxSizeBytes int `yaml:"max_size_bytes"`
}

// QueueConfig holds persist queue settings.
type QueueConfig struct {
	BatchSize        int           `yaml:"batch_size"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	PendingThreshold int           `yaml:"pending_threshold"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	MaxRetries       int           `yaml:"max_retries"`
	RatePerSecond    float64       `yaml:"rate_per_second"`
}

// SearchConfig holds search, fusion, and chunking settings.
type SearchConfig struct {
	DefaultLimit        int     `yaml:"default_limit"`
	MaxLimit            int     `yaml:"max_limit"`
	ChunkSize           int     `yaml:"chunk_size"`
	Kappa               float64 `yaml:"kappa"`
	CandidateMultiplier int     `yaml:"candidate_multiplier"`
	ContentWeight       float64 `yaml:"content_weight"`
	SummaryWeight       float64 `yaml:"summary_weight"`
	TitleWeight         float64 `yaml:"title_weight"`
}

// AssociationsConfig holds association derivation thresholds.
type AssociationsConfig struct {
	MinSharedConcepts int     `yaml:"min_shared_concepts"`
	MinConfidence     float64 `yaml:"min_confidence"`
	MaxResults        int     `yaml:"max_results"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.JournalPath = expandPath(cfg.Storage.JournalPath, configDir)
	cfg.Storage.AssociationsPath = expandPath(cfg.Storage.AssociationsPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
