// Package config loads and validates semsearch configuration.
//
// Configuration comes from three layers, later wins:
//  1. Built-in defaults
//  2. A YAML config file (optional)
//  3. Environment variables (SEMSEARCH_*, plus PORT per PaaS convention)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when the config file and environment are silent.
const (
	DefaultPort       = 8080
	DefaultHost       = "0.0.0.0"
	DefaultIndexPath  = "./search_index"
	DefaultDimensions = 384
	DefaultBatchSize  = 32
	DefaultTimeout    = "30s"
	DefaultCacheSize  = 1000
	DefaultK          = 10
)

// Config is the complete semsearch configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Server     ServerConfig     `yaml:"server"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Index      IndexConfig      `yaml:"index"`
	Builder    BuilderConfig    `yaml:"builder"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Host is the bind address. Defaults to all interfaces for
	// containerized deployments.
	Host string `yaml:"host"`
	// Port is the listen port. The PORT environment variable wins over
	// this value; default 8080.
	Port int `yaml:"port"`
	// ReturnScores includes similarity scores in search responses.
	ReturnScores bool `yaml:"return_scores"`
	// DefaultK is the result count when a request omits k.
	DefaultK int `yaml:"default_k"`
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "ollama" (default) or "static"
	// (deterministic offline embeddings, no model server required).
	Provider string `yaml:"provider"`
	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions is the embedding dimensionality. Fixed per index.
	Dimensions int `yaml:"dimensions"`
	// BatchSize is the number of texts per embedding request.
	BatchSize int `yaml:"batch_size"`
	// Timeout bounds a single embedding call (e.g. "30s").
	Timeout string `yaml:"timeout"`
	// CacheSize is the number of query embeddings kept in the LRU cache.
	CacheSize int `yaml:"cache_size"`
}

// IndexConfig configures the vector index.
type IndexConfig struct {
	// Path is the index directory on disk.
	Path string `yaml:"path"`
	// Backend selects the search structure: "flat" (exact, default)
	// or "hnsw" (approximate, for larger corpora).
	Backend string `yaml:"backend"`
	// HNSW tunes the hnsw backend; ignored for flat.
	HNSW HNSWConfig `yaml:"hnsw"`
}

// HNSWConfig tunes the HNSW graph.
type HNSWConfig struct {
	M        int `yaml:"m"`
	EfSearch int `yaml:"ef_search"`
}

// BuilderConfig configures index construction.
type BuilderConfig struct {
	// Source is the JSONL documents file consumed by `semsearch build`.
	Source string `yaml:"source"`
	// Workers bounds concurrent embedding batches during a build.
	Workers int `yaml:"workers"`
	// Compose is the ordered text-composition rule applied to each
	// document's fields. Caller-supplied, never hardcoded per domain.
	Compose []ComposeField `yaml:"compose"`
}

// ComposeField is one segment of the text-composition rule. The rendered
// segment is Prefix + value + Suffix; segments are joined with single
// spaces. Fields absent from a document render as empty values.
type ComposeField struct {
	Key    string `yaml:"key"`
	Prefix string `yaml:"prefix"`
	Suffix string `yaml:"suffix"`
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReturnScores: true,
			DefaultK:     DefaultK,
			LogLevel:     "info",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			OllamaHost: "http://localhost:11434",
			Model:      "all-minilm",
			Dimensions: DefaultDimensions,
			BatchSize:  DefaultBatchSize,
			Timeout:    DefaultTimeout,
			CacheSize:  DefaultCacheSize,
		},
		Index: IndexConfig{
			Path:    DefaultIndexPath,
			Backend: "flat",
			HNSW:    HNSWConfig{M: 16, EfSearch: 20},
		},
		Builder: BuilderConfig{
			Workers: 4,
			Compose: []ComposeField{
				{Key: "name", Suffix: "."},
				{Key: "description"},
				{Key: "category", Prefix: "Category: "},
			},
		},
	}
}

// Load reads configuration from path (optional), applies environment
// overrides, and validates the result. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SEMSEARCH_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SEMSEARCH_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("SEMSEARCH_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("SEMSEARCH_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("SEMSEARCH_INDEX_PATH"); v != "" {
		c.Index.Path = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Server.DefaultK <= 0 {
		return fmt.Errorf("default_k must be positive, got %d", c.Server.DefaultK)
	}
	switch c.Embeddings.Provider {
	case "ollama", "static":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if _, err := time.ParseDuration(c.Embeddings.Timeout); err != nil {
		return fmt.Errorf("invalid embeddings timeout %q: %w", c.Embeddings.Timeout, err)
	}
	switch c.Index.Backend {
	case "flat", "hnsw":
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}
	if len(c.Builder.Compose) == 0 {
		return fmt.Errorf("builder compose rule must name at least one field")
	}
	for _, f := range c.Builder.Compose {
		if f.Key == "" {
			return fmt.Errorf("builder compose field with empty key")
		}
	}
	return nil
}

// EmbedTimeout returns the parsed embedding timeout. Validate guarantees
// the string parses; a zero value falls back to the default.
func (c *Config) EmbedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Embeddings.Timeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultTimeout)
	}
	return d
}
