package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("INGEST_MODE", "")
	t.Setenv("VECTOR_BACKEND", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 10, cfg.MaxResults)
	assert.Equal(t, 20, cfg.MaxResultsBound)
	assert.Equal(t, IngestAsynq, cfg.IngestMode)
	assert.Equal(t, VectorMongo, cfg.VectorBackend)

	p := cfg.RetryPolicy()
	assert.EqualValues(t, 4, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.InitialInterval)

	s := cfg.DefaultSettings()
	assert.Equal(t, cfg.EmbeddingModel, s.EmbeddingModel)
	assert.Equal(t, cfg.MaxResults, s.MaxResults)
	// k alone bounds retrieval unless a threshold is configured
	assert.Zero(t, s.MinScore)
}

func TestLoadConfig_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestLoadConfig_PipelineOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chunking:
  size: 800
  overlap: 100
retrieval:
  max_results: 5
embedding:
  provider: openai
  model: text-embedding-3-small
vector:
  backend: qdrant
  endpoint: http://qdrant:6333
`), 0o644))

	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CHUNK_SIZE", "1200")
	t.Setenv("PIPELINE_CONFIG", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.ChunkSize, "file overrides environment")
	assert.Equal(t, 100, cfg.ChunkOverlap)
	assert.Equal(t, 5, cfg.MaxResults)
	assert.Equal(t, "openai", cfg.EmbeddingProvider)
	assert.Equal(t, VectorQdrant, cfg.VectorBackend)
	assert.Equal(t, "http://qdrant:6333", cfg.QdrantURL)
	assert.Equal(t, "http://qdrant:6333", cfg.VectorStoreEndpoint())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			JWTSecret:       "s",
			ChunkSize:       1000,
			ChunkOverlap:    200,
			MaxResults:      10,
			MaxResultsBound: 20,
			IngestMode:      IngestAsynq,
			VectorBackend:   VectorMongo,
		}
	}
	require.NoError(t, base().Validate())

	c := base()
	c.ChunkOverlap = 1000
	assert.Error(t, c.Validate())

	c = base()
	c.MaxResults = 21
	assert.Error(t, c.Validate())

	c = base()
	c.VectorBackend = VectorChromem
	assert.ErrorContains(t, c.Validate(), "INGEST_MODE=local")
	c.IngestMode = IngestLocal
	assert.NoError(t, c.Validate())

	c = base()
	c.MemoryStore = true
	assert.ErrorContains(t, c.Validate(), "MEMORY_STORE")

	c = base()
	c.VectorBackend = "faiss"
	assert.Error(t, c.Validate())
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DURATION", "90s")
	assert.Equal(t, 90*time.Second, getEnvDuration("X_DURATION", time.Second))
	t.Setenv("X_DURATION", "15")
	assert.Equal(t, 15*time.Second, getEnvDuration("X_DURATION", time.Second))
	t.Setenv("X_DURATION", "soon")
	assert.Equal(t, time.Second, getEnvDuration("X_DURATION", time.Second))
}

func TestRedisOptions(t *testing.T) {
	opt, err := redisOptions(&Config{RedisURL: "redis://:pw@cache:6380/2"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opt.Addr)
	assert.Equal(t, "pw", opt.Password)
	assert.Equal(t, 2, opt.DB)

	opt, err = redisOptions(&Config{RedisURL: "localhost:6379", RedisDB: 1})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opt.Addr)
	assert.Equal(t, 1, opt.DB)
}
