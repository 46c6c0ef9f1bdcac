package services

import (
	"context"
	"errors"
	"time"

	"financerag/internal/logger"
	"financerag/internal/store"
	"financerag/models"

	"github.com/go-co-op/gocron"
)

const (
	tagStaleSweep = "stale-sweep"
	tagURLRefresh = "url-refresh"
)

// CronService runs the periodic maintenance jobs: re-dispatching documents
// that were lost by a crashed worker and refreshing ingested URLs.
type CronService struct {
	scheduler  *gocron.Scheduler
	store      store.Store
	dispatcher Dispatcher
	ingestion  *IngestionService
	staleAfter time.Duration
	now        func() time.Time
}

func NewCronService(st store.Store, dispatcher Dispatcher, ingestion *IngestionService, staleAfter time.Duration) *CronService {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &CronService{
		scheduler:  s,
		store:      st,
		dispatcher: dispatcher,
		ingestion:  ingestion,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the sweep every sweepInterval and, when refreshCron is
// set, the URL refresh on that cron expression.
func (c *CronService) Start(sweepInterval time.Duration, refreshCron string) error {
	if sweepInterval > 0 {
		_, err := c.scheduler.Every(sweepInterval).Tag(tagStaleSweep).Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if n, err := c.SweepStale(ctx); err != nil {
				logger.Error("Stale sweep failed", "error", err)
			} else if n > 0 {
				logger.Info("Stale documents re-dispatched", "count", n)
			}
		})
		if err != nil {
			return err
		}
	}
	if refreshCron != "" {
		_, err := c.scheduler.Cron(refreshCron).Tag(tagURLRefresh).Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			if n, err := c.RefreshURLs(ctx); err != nil {
				logger.Error("URL refresh failed", "error", err)
			} else {
				logger.Info("URL refresh queued", "count", n)
			}
		})
		if err != nil {
			return err
		}
	}
	logger.Info("Starting cron service", "jobs", c.scheduler.Len())
	c.scheduler.StartAsync()
	return nil
}

func (c *CronService) Stop() {
	logger.Info("Stopping cron service")
	c.scheduler.Stop()
}

// SweepStale re-dispatches documents stuck in pending or processing for
// longer than staleAfter.
func (c *CronService) SweepStale(ctx context.Context) (int, error) {
	before := c.now().Add(-c.staleAfter)
	n := 0

	stuck, err := c.store.ListStale(ctx, models.StatusProcessing, before)
	if err != nil {
		return n, err
	}
	for _, d := range stuck {
		doc, err := c.store.TransitionDocument(ctx, d.ID, []string{models.StatusProcessing}, models.StatusPending, store.DocumentPatch{})
		if errors.Is(err, models.ErrStatusConflict) {
			continue
		}
		if err != nil {
			return n, err
		}
		if c.redispatch(ctx, doc) {
			n++
		}
	}

	pending, err := c.store.ListStale(ctx, models.StatusPending, before)
	if err != nil {
		return n, err
	}
	for i := range pending {
		if c.redispatch(ctx, &pending[i]) {
			n++
		}
	}
	return n, nil
}

func (c *CronService) redispatch(ctx context.Context, doc *models.Document) bool {
	if err := c.dispatcher.DispatchIngest(ctx, doc); err != nil {
		logger.Error("Re-dispatch failed", "document_id", doc.ID, "error", err)
		return false
	}
	return true
}

// RefreshURLs queues a new version of every completed URL document of every
// active company.
func (c *CronService) RefreshURLs(ctx context.Context) (int, error) {
	companies, err := c.store.ListCompanies(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, company := range companies {
		if company.Status != models.CompanyActive {
			continue
		}
		docs, _, err := c.store.ListDocuments(ctx, models.DocumentFilter{
			CompanyID: company.ID,
			Kind:      models.SourceURL,
			Status:    models.StatusCompleted,
			Limit:     -1,
		})
		if err != nil {
			return n, err
		}
		for _, d := range docs {
			_, err := c.ingestion.Resubmit(ctx, d.ID)
			switch {
			case err == nil:
				n++
			case errors.Is(err, models.ErrDocumentInFlight):
			default:
				logger.Warn("URL refresh skipped", "document_id", d.ID, "error", err)
			}
		}
	}
	return n, nil
}
