package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Paths     PathsConfig     `yaml:"paths,omitempty"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector,omitempty"`
	Rebuild   RebuildConfig   `yaml:"rebuild,omitempty"`
	Search    SearchConfig    `yaml:"search,omitempty"`
	Eval      EvalConfig      `yaml:"eval,omitempty"`
}

// PathsConfig locates the knowledge corpus and the index artifacts
type PathsConfig struct {
	KnowledgeDir string `yaml:"knowledge_dir,omitempty"`
	IndexDir     string `yaml:"index_dir,omitempty"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "openai" | "local"

	// OpenAI-compatible provider
	APIKey   string `yaml:"api_key,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Model    string `yaml:"model,omitempty"`

	Dimensions int `yaml:"dimensions,omitempty"`
	BatchSize  int `yaml:"batch_size,omitempty"`

	// Retry and rate limiting for network-backed providers
	MaxRetries        int     `yaml:"max_retries,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// VectorConfig selects the vector index backend
type VectorConfig struct {
	Backend string `yaml:"backend,omitempty"` // "sqlite" | "chromem"
}

// RebuildConfig holds rebuild tuning
type RebuildConfig struct {
	MaxWorkers int `yaml:"max_workers,omitempty"` // parallel embedding workers
}

// SearchConfig holds query defaults
type SearchConfig struct {
	DefaultK      int     `yaml:"default_k,omitempty"`
	MaxK          int     `yaml:"max_k,omitempty"`
	VectorWeight  float64 `yaml:"vector_weight,omitempty"`
	KeywordWeight float64 `yaml:"keyword_weight,omitempty"`
}

// EvalConfig holds evaluation defaults
type EvalConfig struct {
	QueriesFile string  `yaml:"queries_file,omitempty"`
	Threshold   float64 `yaml:"threshold,omitempty"`
}

// LoadFromFile loads configuration from a specific file.
// A missing file yields the defaults rather than an error, so the tool
// works out of the box against ./knowledge and ./index.
func LoadFromFile(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	if c.Paths.KnowledgeDir == "" {
		c.Paths.KnowledgeDir = "knowledge"
	}
	if c.Paths.IndexDir == "" {
		c.Paths.IndexDir = "index"
	}
	if v := os.Getenv("FLIGHTSKB_KNOWLEDGE_DIR"); v != "" {
		c.Paths.KnowledgeDir = v
	}
	if v := os.Getenv("FLIGHTSKB_INDEX_DIR"); v != "" {
		c.Paths.IndexDir = v
	}
	c.Paths.KnowledgeDir = expandPath(c.Paths.KnowledgeDir)
	c.Paths.IndexDir = expandPath(c.Paths.IndexDir)

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "local"
	}
	if c.Embedding.Model == "" {
		switch c.Embedding.Provider {
		case "openai":
			c.Embedding.Model = "text-embedding-3-small"
		default:
			c.Embedding.Model = "hash-v1"
		}
	}
	if c.Embedding.Dimensions == 0 {
		switch c.Embedding.Provider {
		case "openai":
			c.Embedding.Dimensions = 1536
		default:
			c.Embedding.Dimensions = 256
		}
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 32
	}
	if c.Embedding.MaxRetries == 0 {
		c.Embedding.MaxRetries = 3
	}
	if c.Embedding.RequestsPerSecond == 0 {
		c.Embedding.RequestsPerSecond = 5
	}

	if c.Vector.Backend == "" {
		c.Vector.Backend = "sqlite"
	}

	if c.Rebuild.MaxWorkers == 0 {
		c.Rebuild.MaxWorkers = 4
	}

	if c.Search.DefaultK == 0 {
		c.Search.DefaultK = 5
	}
	if c.Search.MaxK == 0 {
		c.Search.MaxK = 50
	}
	if c.Search.VectorWeight == 0 && c.Search.KeywordWeight == 0 {
		c.Search.VectorWeight = 0.7
		c.Search.KeywordWeight = 0.3
	}

	if c.Eval.QueriesFile == "" {
		c.Eval.QueriesFile = "eval/test_queries.yaml"
	}
	if c.Eval.Threshold == 0 {
		c.Eval.Threshold = 0.90
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("openai provider requires api_key")
		}
	case "local":
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Provider)
	}

	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive, got: %d", c.Embedding.Dimensions)
	}
	if c.Embedding.BatchSize <= 0 || c.Embedding.BatchSize > 256 {
		return fmt.Errorf("batch_size must be between 1 and 256, got: %d", c.Embedding.BatchSize)
	}

	switch c.Vector.Backend {
	case "sqlite", "chromem":
	default:
		return fmt.Errorf("unsupported vector backend: %s", c.Vector.Backend)
	}

	if c.Search.MaxK < c.Search.DefaultK {
		return fmt.Errorf("max_k (%d) must be >= default_k (%d)", c.Search.MaxK, c.Search.DefaultK)
	}

	return nil
}

// expandPath expands ~ and $HOME to the user's home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "$HOME/") || path == "$HOME" {
		homeDir := os.Getenv("HOME")
		if homeDir == "" {
			var err error
			homeDir, err = os.UserHomeDir()
			if err != nil {
				return path
			}
		}
		if path == "$HOME" {
			return homeDir
		}
		return filepath.Join(homeDir, path[6:])
	}

	if strings.HasPrefix(path, "~/") || path == "~" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return homeDir
		}
		return filepath.Join(homeDir, path[2:])
	}

	return path
}
