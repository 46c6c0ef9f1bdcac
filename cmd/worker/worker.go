package main

import (
	"context"
	"errors"
	"log"
	"os"

	"financerag/internal/app"
	"financerag/internal/config"
	"financerag/internal/logger"
	"financerag/internal/queue"

	"github.com/hibiken/asynq"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg.GinMode)

	if cfg.IngestMode != config.IngestAsynq {
		logger.Error("The worker only runs with INGEST_MODE=asynq; local mode processes jobs in the API")
		os.Exit(1)
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		logger.Error("Invalid Redis configuration", "error", err)
		os.Exit(1)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:    cfg.WorkerConcurrency,
			Queues:         queue.Queues,
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("Task failed",
					"type", task.Type(),
					"retry", retried,
					"max_retry", maxRetry,
					"terminal", errors.Is(err, asynq.SkipRetry),
					"error", err,
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	a.TaskProcessor().Register(mux)

	logger.Info("Starting asynq worker", "concurrency", cfg.WorkerConcurrency, "queues", queue.Queues)

	// Run blocks until SIGTERM or SIGINT
	if err := server.Run(mux); err != nil {
		logger.Error("Worker stopped", "error", err)
		os.Exit(1)
	}
}
