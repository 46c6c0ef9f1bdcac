package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"financerag/internal/logger"
	"financerag/models"
)

// AsynqDispatcher hands ingestion and re-embedding to the worker process
// through Redis.
type AsynqDispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	timeout   time.Duration
}

func NewAsynqDispatcher(opt asynq.RedisConnOpt, timeout time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		timeout:   timeout,
	}
}

func (d *AsynqDispatcher) DispatchIngest(ctx context.Context, doc *models.Document) error {
	task, err := NewIngestTask(IngestPayload{DocumentID: doc.ID, CompanyID: doc.CompanyID}, d.timeout)
	if err != nil {
		return err
	}
	return d.enqueue(ctx, task, QueueCritical, doc.ID)
}

func (d *AsynqDispatcher) DispatchReembed(ctx context.Context, companyID, model string) error {
	task, err := NewReembedTask(ReembedPayload{CompanyID: companyID, Model: model}, d.timeout*10)
	if err != nil {
		return err
	}
	return d.enqueue(ctx, task, QueueDefault, reembedTaskID(companyID))
}

// enqueue treats an id conflict with a live task as already queued. A
// conflicting archived task is a previous failed run and is replaced.
func (d *AsynqDispatcher) enqueue(ctx context.Context, task *asynq.Task, queue, id string) error {
	_, err := d.client.EnqueueContext(ctx, task)
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		if err != nil {
			return models.Transient("enqueue", err)
		}
		return nil
	}
	if delErr := d.inspector.DeleteTask(queue, id); delErr != nil {
		logger.Debug("Task already queued", "task_id", id)
		return nil
	}
	if _, err := d.client.EnqueueContext(ctx, task); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return models.Transient("enqueue", err)
	}
	return nil
}

// CancelIngest removes a queued task or signals a running one. A task that
// no longer exists is not an error.
func (d *AsynqDispatcher) CancelIngest(ctx context.Context, documentID string) error {
	err := d.inspector.DeleteTask(QueueCritical, documentID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, asynq.ErrTaskNotFound), errors.Is(err, asynq.ErrQueueNotFound):
		return nil
	}
	// Active tasks cannot be deleted, only cancelled.
	return d.inspector.CancelProcessing(documentID)
}

func (d *AsynqDispatcher) Close() error {
	return errors.Join(d.client.Close(), d.inspector.Close())
}
