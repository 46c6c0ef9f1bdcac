package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"financerag/internal/logger"
	"financerag/internal/queue"
	"financerag/models"
)

var errPoolStopped = errors.New("worker pool stopped")

type poolJob struct {
	documentID string
	companyID  string
	model      string
	reembed    bool
	attempt    int
}

func (j poolJob) key() string {
	if j.reembed {
		return "reembed:" + j.companyID
	}
	return j.documentID
}

// WorkerPool runs ingestion and re-embedding in-process when no task queue
// is configured (INGEST_MODE=local).
type WorkerPool struct {
	workerCount int
	maxAttempts int
	timeout     time.Duration
	retryDelay  time.Duration

	jobs     chan poolJob
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu        sync.Mutex
	stopped   bool
	queued    map[string]struct{}
	cancelled map[string]struct{}
	running   map[string]context.CancelFunc

	ingester   queue.Ingester
	reembedder queue.Reembedder
}

// NewWorkerPool creates a pool; Start must be called before jobs run.
func NewWorkerPool(workerCount, queueSize int, timeout time.Duration) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 2 // Default to 2 workers
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &WorkerPool{
		workerCount: workerCount,
		maxAttempts: 3,
		timeout:     timeout,
		retryDelay:  2 * time.Second,
		jobs:        make(chan poolJob, queueSize),
		stopChan:    make(chan struct{}),
		queued:      make(map[string]struct{}),
		cancelled:   make(map[string]struct{}),
		running:     make(map[string]context.CancelFunc),
	}
}

// Start begins processing with the given handlers.
func (p *WorkerPool) Start(ingester queue.Ingester, reembedder queue.Reembedder) {
	p.ingester = ingester
	p.reembedder = reembedder
	logger.Info("Starting local worker pool", "workers", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels running jobs and waits for workers to exit.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, cancel := range p.running {
		cancel()
	}
	p.mu.Unlock()

	logger.Info("Stopping local worker pool")
	close(p.stopChan)
	p.wg.Wait()
}

func (p *WorkerPool) DispatchIngest(ctx context.Context, doc *models.Document) error {
	return p.enqueue(ctx, poolJob{documentID: doc.ID, companyID: doc.CompanyID})
}

func (p *WorkerPool) DispatchReembed(ctx context.Context, companyID, model string) error {
	return p.enqueue(ctx, poolJob{companyID: companyID, model: model, reembed: true})
}

// CancelIngest drops a queued job or cancels a running one.
func (p *WorkerPool) CancelIngest(_ context.Context, documentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.running[documentID]; ok {
		cancel()
		return nil
	}
	if _, ok := p.queued[documentID]; ok {
		p.cancelled[documentID] = struct{}{}
	}
	return nil
}

func (p *WorkerPool) enqueue(ctx context.Context, j poolJob) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return errPoolStopped
	}
	if _, dup := p.queued[j.key()]; dup {
		p.mu.Unlock()
		return nil
	}
	p.queued[j.key()] = struct{}{}
	delete(p.cancelled, j.key())
	p.mu.Unlock()

	select {
	case p.jobs <- j:
		return nil
	case <-ctx.Done():
		p.forget(j.key())
		return ctx.Err()
	default:
		p.forget(j.key())
		return models.Transient("dispatch", errors.New("local job queue is full"))
	}
}

func (p *WorkerPool) forget(key string) {
	p.mu.Lock()
	delete(p.queued, key)
	p.mu.Unlock()
}

func (p *WorkerPool) worker(workerID int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		case j := <-p.jobs:
			p.run(workerID, j)
		}
	}
}

func (p *WorkerPool) run(workerID int, j poolJob) {
	key := j.key()
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), p.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	p.mu.Lock()
	delete(p.queued, key)
	if _, skip := p.cancelled[key]; skip || p.stopped {
		delete(p.cancelled, key)
		p.mu.Unlock()
		return
	}
	p.running[key] = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.running, key)
		p.mu.Unlock()
	}()

	log := logger.With("worker", workerID, "job", key, "attempt", j.attempt+1)
	var err error
	if j.reembed {
		if p.reembedder == nil {
			log.Error("Re-embedding not configured")
			return
		}
		err = p.reembedder.Reembed(ctx, j.companyID, j.model)
	} else {
		err = p.ingester.Process(ctx, j.documentID)
	}
	if err == nil {
		log.Debug("Job completed")
		return
	}

	if models.IsTransient(err) && j.attempt+1 < p.maxAttempts {
		log.Warn("Job failed, retrying", "error", err)
		j.attempt++
		time.AfterFunc(p.retryDelay*time.Duration(j.attempt), func() {
			if err := p.enqueue(context.Background(), j); err != nil && !errors.Is(err, errPoolStopped) {
				logger.Error("Requeue failed", "job", key, "error", err)
			}
		})
		return
	}
	log.Error("Job failed", "error", err)
}
