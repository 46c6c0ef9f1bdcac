package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"financerag/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localConfig(t *testing.T) *config.Config {
	return &config.Config{
		MemoryStore:       true,
		RedisURL:          "127.0.0.1:1",
		JWTSecret:         "app-test-secret-value",
		AdminTokenTTL:     time.Hour,
		IngestMode:        config.IngestLocal,
		IngestTimeout:     time.Minute,
		LocalWorkers:      1,
		StaleAfter:        time.Hour,
		SweepInterval:     time.Hour,
		VectorBackend:     config.VectorMemory,
		EmbeddingProvider: "hash",
		EmbeddingModel:    "v1",
		HashDimension:     64,
		LLMProvider:       "google",
		LLMModel:          "gemini-2.0-flash",
		ChunkSize:         200,
		ChunkOverlap:      20,
		MaxResults:        5,
		MaxResultsBound:   20,
		FileStorageDir:    t.TempDir(),
		MaxFileSize:       1 << 20,
		RequestBodyLimit:  1 << 16,
		RetryMaxAttempts:  1,
	}
}

func TestNewLocalApp(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := New(context.Background(), localConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Redis)
	assert.NotNil(t, a.pool)
	assert.Equal(t, "memory", a.Index.Backend())
	require.NoError(t, a.Start())

	router := a.Router()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rag/status", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"embedding_model":"hash:v1"`)

	st, err := a.Settings.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, st.ChunkSize)
}

func TestNewRejectsShortSecret(t *testing.T) {
	cfg := localConfig(t)
	cfg.JWTSecret = "short"
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "JWT_SECRET")
}
