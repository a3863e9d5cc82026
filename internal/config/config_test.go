package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFileMissingGivesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "knowledge", cfg.Paths.KnowledgeDir)
	assert.Equal(t, "index", cfg.Paths.IndexDir)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, "hash-v1", cfg.Embedding.Model)
	assert.Equal(t, 256, cfg.Embedding.Dimensions)
	assert.Equal(t, "sqlite", cfg.Vector.Backend)
	assert.Equal(t, 5, cfg.Search.DefaultK)
	assert.Equal(t, 50, cfg.Search.MaxK)
	assert.InDelta(t, 0.7, cfg.Search.VectorWeight, 1e-9)
	assert.InDelta(t, 0.90, cfg.Eval.Threshold, 1e-9)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
paths:
  knowledge_dir: /srv/kb/knowledge
embedding:
  provider: openai
  api_key: test-key
  model: text-embedding-3-large
vector:
  backend: chromem
search:
  default_k: 10
  max_k: 20
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/kb/knowledge", cfg.Paths.KnowledgeDir)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, "chromem", cfg.Vector.Backend)
	assert.Equal(t, 10, cfg.Search.DefaultK)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLIGHTSKB_KNOWLEDGE_DIR", "/data/knowledge")
	t.Setenv("FLIGHTSKB_INDEX_DIR", "/data/index")

	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/data/knowledge", cfg.Paths.KnowledgeDir)
	assert.Equal(t, "/data/index", cfg.Paths.IndexDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "openai without api key",
			mutate:  func(c *Config) { c.Embedding.Provider = "openai"; c.Embedding.APIKey = "" },
			wantErr: "api_key",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Embedding.Provider = "cohere" },
			wantErr: "unsupported embedding provider",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Vector.Backend = "pinecone" },
			wantErr: "unsupported vector backend",
		},
		{
			name:    "max_k below default_k",
			mutate:  func(c *Config) { c.Search.MaxK = 2 },
			wantErr: "max_k",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
