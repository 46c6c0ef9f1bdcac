// Package app assembles the services from configuration. The API server,
// the asynq worker and the admin CLI all start from New.
package app

import (
	"context"
	"fmt"
	"time"

	"financerag/internal/ai"
	"financerag/internal/auth"
	"financerag/internal/config"
	"financerag/internal/database"
	"financerag/internal/logger"
	"financerag/internal/parser"
	"financerag/internal/queue"
	"financerag/internal/store"
	"financerag/internal/telemetry"
	"financerag/internal/vectorindex"
	"financerag/middleware"
	"financerag/routes"
	"financerag/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

type App struct {
	Config  *config.Config
	Metrics *telemetry.Metrics

	Mongo *mongo.Client
	Redis *redis.Client

	Store      store.Store
	Index      vectorindex.Index
	Providers  *ai.Providers
	Embedder   *ai.Batcher
	LLM        *ai.Guarded
	Dispatcher services.Dispatcher
	Issuer     *auth.Issuer

	Settings  *services.SettingsService
	Ingestion *services.IngestionService
	Registry  *services.RegistryService
	Questions *services.QuestionService
	History   *services.HistoryService
	Status    *services.StatusService
	Cron      *services.CronService

	pool    *services.WorkerPool
	closers []func()
}

// New connects the backing stores and builds every service. Nothing runs
// in the background until Start.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	if a.Metrics, err = telemetry.InitMetrics(); err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}
	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer(telemetry.TracerConfig{
			ServiceName: "financerag",
			Endpoint:    cfg.OTLPEndpoint,
			Environment: cfg.Environment,
			SampleRatio: cfg.TraceSampleRatio,
		})
		if err != nil {
			logger.Warn("Tracing disabled", "error", err)
		} else {
			a.closers = append(a.closers, shutdown)
		}
	}

	if err := a.connectStores(); err != nil {
		return nil, err
	}
	if a.Index, err = a.openIndex(ctx); err != nil {
		return nil, err
	}

	a.Providers = ai.NewProviders(ai.Credentials{
		GeminiAPIKey:  cfg.GeminiAPIKey,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OllamaHost:    cfg.OllamaHost,
		HashDimension: cfg.HashDimension,
	})
	a.closers = append(a.closers, func() { _ = a.Providers.Close() })
	a.Embedder = ai.NewBatcher(a.Providers, cfg.EmbeddingBatchSize, cfg.EmbeddingConcurrency, cfg.RetryPolicy(), a.Metrics)
	a.LLM = ai.NewGuarded(a.Providers, ai.GuardConfig{
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
		BreakerTimeout:    cfg.LLMBreakerTimeout,
		Policy:            cfg.RetryPolicy(),
	}, a.Metrics)

	if a.Dispatcher, err = a.newDispatcher(); err != nil {
		return nil, err
	}
	if a.Issuer, err = auth.NewIssuer(cfg.JWTSecret, cfg.AdminTokenTTL, a.Redis); err != nil {
		return nil, err
	}

	files, err := services.NewFileStore(cfg.FileStorageDir)
	if err != nil {
		return nil, err
	}
	fence := services.NewCompanyFence()

	a.Settings = services.NewSettingsService(a.Store, cfg.DefaultSettings(), cfg.MaxResultsBound)
	a.Ingestion = services.NewIngestionService(services.IngestionDeps{
		Store: a.Store,
		Index: a.Index,
		Parser: parser.New(parser.Options{
			FetchTimeout: cfg.FetchTimeout,
			UserAgent:    cfg.UserAgent,
			RenderJS:     cfg.RenderJS,
		}),
		Embedder:   a.Embedder,
		Dispatcher: a.Dispatcher,
		Settings:   a.Settings,
		Files:      files,
		Locker:     services.NewDocumentLocker(a.Redis, cfg.IngestTimeout),
		Fence:      fence,
		Metrics:    a.Metrics,
	}, services.IngestionConfig{MaxFileSize: cfg.MaxFileSize, Timeout: cfg.IngestTimeout})
	a.Registry = services.NewRegistryService(services.RegistryDeps{
		Store:      a.Store,
		Index:      a.Index,
		Embedder:   a.Embedder,
		Dispatcher: a.Dispatcher,
		Settings:   a.Settings,
		Files:      files,
		Fence:      fence,
	}, cfg.DeleteWaitTimeout)
	a.Settings.SetReembedScheduler(a.Registry)

	var cache services.RetryCache = services.NewMemoryRetryCache(cfg.RetryCacheTTL)
	if a.Redis != nil {
		cache = services.NewRedisRetryCache(a.Redis, cfg.RetryCacheTTL)
	}
	a.History = services.NewHistoryService(a.Store, services.NewKeywordClassifier())
	synth := services.NewSynthesizer(a.LLM, a.Settings, services.SynthesizerConfig{
		Temperature: float32(cfg.LLMTemperature),
		MaxTokens:   cfg.LLMMaxTokens,
	})
	retriever := services.NewRetriever(a.Store, a.Index, a.Embedder, a.Settings)
	a.Questions = services.NewQuestionService(a.Store, retriever, synth, a.History, cache, a.Metrics)
	a.Status = services.NewStatusService(a.Store, a.Index, a.Settings, a.LLM, cfg.IngestMode)
	a.Cron = services.NewCronService(a.Store, a.Dispatcher, a.Ingestion, cfg.StaleAfter)

	ok = true
	return a, nil
}

func (a *App) connectStores() error {
	cfg := a.Config
	if !cfg.MemoryStore || cfg.VectorBackend == config.VectorMongo {
		client, err := config.ConnectMongoDB(cfg)
		if err != nil {
			return err
		}
		a.Mongo = client
		a.closers = append(a.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		})
		logger.Info("Connected to MongoDB", "database", cfg.DBName)
	}
	if cfg.MemoryStore {
		a.Store = store.NewMemory()
		logger.Warn("Using in-memory store; data is lost on restart")
	} else {
		a.Store = store.NewMongo(a.Mongo.Database(cfg.DBName))
	}

	rdb, err := config.NewRedisClient(cfg)
	switch {
	case err == nil:
		a.Redis = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		logger.Info("Connected to Redis")
	case cfg.IngestMode == config.IngestAsynq:
		return fmt.Errorf("INGEST_MODE=asynq requires redis: %w", err)
	default:
		logger.Warn("Redis unavailable; rate limiting and shared locks disabled", "error", err)
	}
	return nil
}

func (a *App) openIndex(ctx context.Context) (vectorindex.Index, error) {
	cfg := a.Config
	switch cfg.VectorBackend {
	case config.VectorMemory:
		return vectorindex.NewMemory(), nil
	case config.VectorChromem:
		return vectorindex.NewChromem(cfg.ChromemPath, cfg.ChromemCompress)
	case config.VectorMongo:
		return vectorindex.NewMongo(database.NewTenantDBManager(a.Mongo, cfg.VectorDBPrefix)), nil
	case config.VectorPgvector:
		pg, err := vectorindex.NewPgvector(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		return pg, nil
	case config.VectorQdrant:
		return vectorindex.NewQdrant(cfg.QdrantURL, cfg.QdrantAPIKey, cfg.FetchTimeout), nil
	}
	return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
}

func (a *App) newDispatcher() (services.Dispatcher, error) {
	cfg := a.Config
	if cfg.IngestMode == config.IngestLocal {
		a.pool = services.NewWorkerPool(cfg.LocalWorkers, 0, cfg.IngestTimeout)
		return a.pool, nil
	}
	opt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		return nil, err
	}
	d := queue.NewAsynqDispatcher(opt, cfg.IngestTimeout)
	a.closers = append(a.closers, func() { _ = d.Close() })
	return d, nil
}

// Start runs the local worker pool, when configured, and the scheduled
// jobs.
func (a *App) Start() error {
	if a.pool != nil {
		a.pool.Start(a.Ingestion, a.Registry)
		a.closers = append(a.closers, a.pool.Stop)
	}
	if err := a.Cron.Start(a.Config.SweepInterval, a.Config.URLRefreshCron); err != nil {
		return err
	}
	a.closers = append(a.closers, a.Cron.Stop)
	return nil
}

// Router returns the HTTP API.
func (a *App) Router() *gin.Engine {
	cfg := a.Config
	return routes.NewRouter(routes.RouterConfig{
		CORSOrigins:      cfg.CORSOrigins,
		MaxFileSize:      cfg.MaxFileSize,
		RequestBodyLimit: cfg.RequestBodyLimit,
		RateLimitReqs:    cfg.RateLimitReqs,
		RateLimitWindow:  time.Duration(cfg.RateLimitWindow) * time.Second,
		TracingEnabled:   cfg.TracingEnabled,
	}, routes.Services{
		Registry:  a.Registry,
		Ingestion: a.Ingestion,
		Questions: a.Questions,
		History:   a.History,
		Settings:  a.Settings,
		Status:    a.Status,
	}, middleware.NewAuthMiddleware(a.Issuer), a.Redis, a.Metrics)
}

// TaskProcessor handles asynq tasks with this app's services.
func (a *App) TaskProcessor() *queue.TaskProcessor {
	return queue.NewTaskProcessor(a.Ingestion, a.Registry)
}

// Close releases everything in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
