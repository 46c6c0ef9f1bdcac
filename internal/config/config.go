package config

import (
	"fmt"
	"os"
	"time"

	"financerag/internal/chunker"
	"financerag/internal/retry"
	"financerag/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Ingestion modes
const (
	IngestLocal = "local"
	IngestAsynq = "asynq"
)

// Vector backends
const (
	VectorMemory   = "memory"
	VectorChromem  = "chromem"
	VectorMongo    = "mongo"
	VectorPgvector = "pgvector"
	VectorQdrant   = "qdrant"
)

type Config struct {
	Port             string
	GinMode          string
	CORSOrigins      []string
	MaxFileSize      int64
	RequestBodyLimit int64
	FileStorageDir   string

	MongoURI string
	DBName   string
	// use the in-memory store instead of MongoDB
	MemoryStore bool

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Admin tokens for privileged settings
	JWTSecret     string
	AdminTokenTTL time.Duration

	// Ingestion
	IngestMode        string
	IngestTimeout     time.Duration
	LocalWorkers      int
	WorkerConcurrency int
	StaleAfter        time.Duration
	SweepInterval     time.Duration
	URLRefreshCron    string
	DeleteWaitTimeout time.Duration

	// Vector index
	VectorBackend   string
	ChromemPath     string
	ChromemCompress bool
	PostgresDSN     string
	QdrantURL       string
	QdrantAPIKey    string
	VectorDBPrefix  string

	// Models
	EmbeddingProvider    string
	EmbeddingModel       string
	EmbeddingBatchSize   int
	EmbeddingConcurrency int
	HashDimension        int
	LLMProvider          string
	LLMModel             string
	LLMTemperature       float64
	LLMMaxTokens         int
	LLMRequestsPerMinute int
	LLMBreakerTimeout    time.Duration

	// Provider credentials
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OllamaHost    string

	// Chunking and retrieval defaults
	ChunkSize       int
	ChunkOverlap    int
	MaxResults      int
	MaxResultsBound int
	MinScore        float64
	RetryCacheTTL   time.Duration

	// Retry policy
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	RateLimitReqs   int
	RateLimitWindow int

	// URL fetching
	FetchTimeout time.Duration
	UserAgent    string
	RenderJS     bool

	// Telemetry
	OTLPEndpoint     string
	TracingEnabled   bool
	Environment      string
	TraceSampleRatio float64

	PipelineConfig string
}

// Pipeline is the optional YAML overlay named by PIPELINE_CONFIG. Zero
// values leave the environment setting untouched.
type Pipeline struct {
	Chunking struct {
		Size    int `yaml:"size"`
		Overlap int `yaml:"overlap"`
	} `yaml:"chunking"`
	Retrieval struct {
		MaxResults int     `yaml:"max_results"`
		MinScore   float64 `yaml:"min_score"`
	} `yaml:"retrieval"`
	Embedding struct {
		Provider    string `yaml:"provider"`
		Model       string `yaml:"model"`
		BatchSize   int    `yaml:"batch_size"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"embedding"`
	LLM struct {
		Provider    string  `yaml:"provider"`
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
	} `yaml:"llm"`
	Vector struct {
		Backend  string `yaml:"backend"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"vector"`
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		GinMode:          getEnv("GIN_MODE", "debug"),
		CORSOrigins:      getEnvList("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"),
		MaxFileSize:      getEnvInt64("MAX_FILE_SIZE", 52428800), // 50MB
		RequestBodyLimit: getEnvInt64("REQUEST_BODY_LIMIT", 1048576),
		FileStorageDir:   getEnv("FILE_STORAGE_DIR", "./storage"),

		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/financerag"),
		DBName:      getEnv("DB_NAME", "financerag"),
		MemoryStore: getEnvBool("MEMORY_STORE", false),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		AdminTokenTTL: getEnvDuration("ADMIN_TOKEN_TTL", 24*time.Hour),

		IngestMode:        getEnv("INGEST_MODE", IngestAsynq),
		IngestTimeout:     getEnvDuration("INGEST_TIMEOUT", 10*time.Minute),
		LocalWorkers:      getEnvInt("LOCAL_WORKERS", 4),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),
		StaleAfter:        getEnvDuration("STALE_AFTER", 30*time.Minute),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		URLRefreshCron:    getEnv("URL_REFRESH_CRON", ""),
		DeleteWaitTimeout: getEnvDuration("DELETE_WAIT_TIMEOUT", 30*time.Second),

		VectorBackend:   getEnv("VECTOR_BACKEND", VectorMongo),
		ChromemPath:     getEnv("CHROMEM_PATH", "./storage/vectors"),
		ChromemCompress: getEnvBool("CHROMEM_COMPRESS", false),
		PostgresDSN:     getEnv("POSTGRES_DSN", "postgres://localhost:5432/financerag"),
		QdrantURL:       getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:    getEnv("QDRANT_API_KEY", ""),
		VectorDBPrefix:  getEnv("VECTOR_DB_PREFIX", "vec"),

		EmbeddingProvider:    getEnv("EMBEDDING_PROVIDER", "google"),
		EmbeddingModel:       getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingBatchSize:   getEnvInt("EMBEDDING_BATCH_SIZE", 64),
		EmbeddingConcurrency: getEnvInt("EMBEDDING_CONCURRENCY", 4),
		HashDimension:        getEnvInt("HASH_EMBEDDING_DIM", 256),
		LLMProvider:          getEnv("LLM_PROVIDER", "google"),
		LLMModel:             getEnv("LLM_MODEL", "gemini-2.0-flash"),
		LLMTemperature:       getEnvFloat64("LLM_TEMPERATURE", 0.2),
		LLMMaxTokens:         getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMRequestsPerMinute: getEnvInt("LLM_REQUESTS_PER_MINUTE", 60),
		LLMBreakerTimeout:    getEnvDuration("LLM_BREAKER_TIMEOUT", 60*time.Second),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),

		ChunkSize:       getEnvInt("CHUNK_SIZE", chunker.DefaultSize),
		ChunkOverlap:    getEnvInt("CHUNK_OVERLAP", chunker.DefaultOverlap),
		MaxResults:      getEnvInt("MAX_RESULTS", 10),
		MaxResultsBound: getEnvInt("MAX_RESULTS_BOUND", 20),
		MinScore:        getEnvFloat64("MIN_SCORE", 0),
		RetryCacheTTL:   getEnvDuration("RETRY_CACHE_TTL", 15*time.Minute),

		RetryMaxAttempts:     getEnvInt("RETRY_MAX_ATTEMPTS", 4),
		RetryInitialInterval: getEnvDuration("RETRY_INITIAL_INTERVAL", 500*time.Millisecond),
		RetryMaxInterval:     getEnvDuration("RETRY_MAX_INTERVAL", 10*time.Second),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		FetchTimeout: getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		UserAgent:    getEnv("FETCH_USER_AGENT", ""),
		RenderJS:     getEnvBool("RENDER_JS", false),

		OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled:   getEnvBool("TRACING_ENABLED", false),
		Environment:      getEnv("ENVIRONMENT", "development"),
		TraceSampleRatio: getEnvFloat64("TRACE_SAMPLE_RATIO", 1.0),

		PipelineConfig: getEnv("PIPELINE_CONFIG", ""),
	}

	if cfg.PipelineConfig != "" {
		if err := cfg.ApplyPipelineFile(cfg.PipelineConfig); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyPipelineFile overlays the YAML pipeline file at path.
func (c *Config) ApplyPipelineFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pipeline config %s: %w", path, err)
	}
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse pipeline config %s: %w", path, err)
	}
	c.applyPipeline(p)
	return nil
}

func (c *Config) applyPipeline(p Pipeline) {
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setFloat := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	setInt(&c.ChunkSize, p.Chunking.Size)
	setInt(&c.ChunkOverlap, p.Chunking.Overlap)
	setInt(&c.MaxResults, p.Retrieval.MaxResults)
	setFloat(&c.MinScore, p.Retrieval.MinScore)
	setStr(&c.EmbeddingProvider, p.Embedding.Provider)
	setStr(&c.EmbeddingModel, p.Embedding.Model)
	setInt(&c.EmbeddingBatchSize, p.Embedding.BatchSize)
	setInt(&c.EmbeddingConcurrency, p.Embedding.Concurrency)
	setStr(&c.LLMProvider, p.LLM.Provider)
	setStr(&c.LLMModel, p.LLM.Model)
	setFloat(&c.LLMTemperature, p.LLM.Temperature)
	setInt(&c.LLMMaxTokens, p.LLM.MaxTokens)
	setStr(&c.VectorBackend, p.Vector.Backend)
	if p.Vector.Endpoint != "" {
		switch c.VectorBackend {
		case VectorQdrant:
			c.QdrantURL = p.Vector.Endpoint
		case VectorPgvector:
			c.PostgresDSN = p.Vector.Endpoint
		case VectorChromem:
			c.ChromemPath = p.Vector.Endpoint
		}
	}
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required - set it in .env file")
	}
	if err := chunker.Validate(c.ChunkSize, c.ChunkOverlap); err != nil {
		return fmt.Errorf("CHUNK_SIZE/CHUNK_OVERLAP: %w", err)
	}
	if c.MaxResultsBound < 1 {
		return fmt.Errorf("MAX_RESULTS_BOUND must be positive")
	}
	if c.MaxResults < 1 || c.MaxResults > c.MaxResultsBound {
		return fmt.Errorf("MAX_RESULTS must be between 1 and %d", c.MaxResultsBound)
	}
	switch c.IngestMode {
	case IngestLocal, IngestAsynq:
	default:
		return fmt.Errorf("INGEST_MODE must be %q or %q", IngestLocal, IngestAsynq)
	}
	if c.MemoryStore && c.IngestMode != IngestLocal {
		return fmt.Errorf("MEMORY_STORE requires INGEST_MODE=local")
	}
	switch c.VectorBackend {
	case VectorMemory, VectorChromem:
		if c.IngestMode != IngestLocal {
			return fmt.Errorf("VECTOR_BACKEND=%s is process-local and requires INGEST_MODE=local", c.VectorBackend)
		}
	case VectorMongo, VectorPgvector, VectorQdrant:
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend)
	}
	return nil
}

// RetryPolicy is the policy shared by embedding, LLM and index calls.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     uint(max(c.RetryMaxAttempts, 1)),
		InitialInterval: c.RetryInitialInterval,
		MaxInterval:     c.RetryMaxInterval,
		Multiplier:      2,
	}
}

// VectorStoreEndpoint describes where the configured backend lives.
func (c *Config) VectorStoreEndpoint() string {
	switch c.VectorBackend {
	case VectorQdrant:
		return c.QdrantURL
	case VectorPgvector:
		return "postgres"
	case VectorChromem:
		return c.ChromemPath
	case VectorMongo:
		return "mongodb/" + c.VectorDBPrefix
	}
	return c.VectorBackend
}

// DefaultSettings is the pipeline configuration used until one is saved.
func (c *Config) DefaultSettings() models.Settings {
	return models.Settings{
		ID:                  models.SettingsID,
		VectorStoreEndpoint: c.VectorStoreEndpoint(),
		EmbeddingProvider:   c.EmbeddingProvider,
		EmbeddingModel:      c.EmbeddingModel,
		LLMProvider:         c.LLMProvider,
		LLMModel:            c.LLMModel,
		ChunkSize:           c.ChunkSize,
		ChunkOverlap:        c.ChunkOverlap,
		MaxResults:          c.MaxResults,
		MinScore:            c.MinScore,
	}
}
