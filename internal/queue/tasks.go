package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"financerag/internal/logger"
	"financerag/models"
)

const (
	TaskIngestDocument = "document:ingest"
	TaskReembedCompany = "company:reembed"

	QueueCritical = "critical"
	QueueDefault  = "default"
)

// Queues is the weight map workers are started with.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
}

type IngestPayload struct {
	DocumentID string `json:"document_id"`
	CompanyID  string `json:"company_id"`
}

type ReembedPayload struct {
	CompanyID string `json:"company_id"`
	Model     string `json:"model"`
}

// Task creators

// NewIngestTask uses the document id as task id so a document is never
// queued twice.
func NewIngestTask(p IngestPayload, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.TaskID(p.DocumentID),
		asynq.MaxRetry(3),
		asynq.Timeout(timeout),
		asynq.Queue(QueueCritical),
	), nil
}

func NewReembedTask(p ReembedPayload, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskReembedCompany,
		payload,
		asynq.TaskID(reembedTaskID(p.CompanyID)),
		asynq.MaxRetry(1),
		asynq.Timeout(timeout),
		asynq.Queue(QueueDefault),
	), nil
}

func reembedTaskID(companyID string) string { return "reembed:" + companyID }

// Ingester runs one document through the pipeline.
type Ingester interface {
	Process(ctx context.Context, documentID string) error
}

// Reembedder rebuilds a company's index with another embedding model.
type Reembedder interface {
	Reembed(ctx context.Context, companyID, model string) error
}

// TaskProcessor

type TaskProcessor struct {
	ingester   Ingester
	reembedder Reembedder
}

func NewTaskProcessor(ingester Ingester, reembedder Reembedder) *TaskProcessor {
	return &TaskProcessor{ingester: ingester, reembedder: reembedder}
}

func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskIngestDocument, p.HandleIngestDocument)
	mux.HandleFunc(TaskReembedCompany, p.HandleReembedCompany)
}

func (p *TaskProcessor) HandleIngestDocument(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	if payload.DocumentID == "" {
		return fmt.Errorf("empty document id: %w", asynq.SkipRetry)
	}

	log := logger.With("task", TaskIngestDocument, "document_id", payload.DocumentID, "company_id", payload.CompanyID)
	log.Info("Processing ingest task")

	if err := p.ingester.Process(ctx, payload.DocumentID); err != nil {
		log.Error("Ingest task failed", "error", err, "retry", models.IsTransient(err))
		return retryable(err)
	}
	log.Info("Ingest task completed")
	return nil
}

func (p *TaskProcessor) HandleReembedCompany(ctx context.Context, t *asynq.Task) error {
	var payload ReembedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	if p.reembedder == nil {
		return fmt.Errorf("re-embedding not configured: %w", asynq.SkipRetry)
	}

	log := logger.With("task", TaskReembedCompany, "company_id", payload.CompanyID, "model", payload.Model)
	log.Info("Processing re-embed task")

	if err := p.reembedder.Reembed(ctx, payload.CompanyID, payload.Model); err != nil {
		log.Error("Re-embed task failed", "error", err)
		return retryable(err)
	}
	log.Info("Re-embed task completed")
	return nil
}

// retryable lets asynq retry transient failures only. Everything else has
// already been recorded on the document and retrying would repeat it.
func retryable(err error) error {
	if err == nil || models.IsTransient(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}
