package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"financerag/internal/logger"
	"financerag/internal/store"
	"financerag/internal/telemetry"
	"financerag/models"
	"financerag/utils"
)

type AskRequest struct {
	Question string `json:"question" binding:"required"`
	K        int    `json:"k"`
	Category string `json:"category"`
	Model    string `json:"model"`
}

// QuestionService answers questions: retrieve, synthesize, record.
type QuestionService struct {
	store       store.Store
	retriever   *Retriever
	synthesizer *Synthesizer
	history     *HistoryService
	cache       RetryCache
	metrics     *telemetry.Metrics
}

func NewQuestionService(st store.Store, retriever *Retriever, synthesizer *Synthesizer, history *HistoryService, cache RetryCache, metrics *telemetry.Metrics) *QuestionService {
	return &QuestionService{
		store:       st,
		retriever:   retriever,
		synthesizer: synthesizer,
		history:     history,
		cache:       cache,
		metrics:     metrics,
	}
}

func (s *QuestionService) Ask(ctx context.Context, companyID string, req AskRequest) (*models.Answer, error) {
	started := time.Now()
	if req.Category != "" && !models.ValidCategory(req.Category) {
		return nil, &models.ValidationError{Field: "category", Reason: "must be one of " + strings.Join(models.Categories, ", ")}
	}

	chunks, company, err := s.retriever.Retrieve(ctx, companyID, req.Question, req.K)
	if err != nil {
		return nil, err
	}
	q := models.Query{
		CompanyID:   company.ID,
		CompanyName: company.Name,
		Question:    strings.TrimSpace(req.Question),
		Category:    req.Category,
		Model:       req.Model,
		CreatedAt:   started.UTC(),
	}

	var tables []models.Table
	if len(chunks) > 0 {
		seen := make(map[string]bool)
		var docIDs []string
		for _, c := range chunks {
			if !seen[c.DocumentID] {
				seen[c.DocumentID] = true
				docIDs = append(docIDs, c.DocumentID)
			}
		}
		tables, err = s.store.ListTablesFor(ctx, company.ID, docIDs)
		if err != nil {
			return nil, err
		}
	}
	return s.answer(ctx, "", q, chunks, tables, started)
}

// Retry re-synthesizes a cached retrieval after a synthesis failure.
func (s *QuestionService) Retry(ctx context.Context, retryID string) (*models.Answer, error) {
	started := time.Now()
	entry, err := s.cache.Get(ctx, retryID)
	if err != nil {
		return nil, err
	}
	company, err := s.store.GetCompany(ctx, entry.Query.CompanyID)
	if errors.Is(err, models.ErrCompanyNotFound) || (err == nil && company.Status == models.CompanyDeleting) {
		s.cache.Delete(ctx, retryID)
		return nil, models.ErrCompanyNotFound
	}
	if err != nil {
		return nil, err
	}
	answer, err := s.answer(ctx, retryID, entry.Query, entry.Chunks, entry.Tables, started)
	if err != nil {
		return nil, err
	}
	s.cache.Delete(ctx, retryID)
	return answer, nil
}

func (s *QuestionService) answer(ctx context.Context, retryID string, q models.Query, chunks []models.RetrievedChunk, tables []models.Table, started time.Time) (*models.Answer, error) {
	answer, err := s.synthesizer.Synthesize(ctx, q, chunks, tables)
	var synthErr *models.SynthesisError
	if errors.As(err, &synthErr) {
		if retryID == "" {
			retryID, _ = utils.GenerateSecureRandomString(24)
		}
		if cerr := s.cache.Put(ctx, retryID, &RetryEntry{Query: q, Chunks: chunks, Tables: tables}); cerr != nil {
			logger.Error("Caching retrieval for retry failed", "error", cerr)
		} else {
			synthErr.RetryID = retryID
		}
		logger.Warn("Synthesis failed", "company_id", q.CompanyID, "retry_id", synthErr.RetryID, "error", synthErr.Err)
		return nil, synthErr
	}
	if err != nil {
		return nil, err
	}

	answer.ResponseTimeMS = time.Since(started).Milliseconds()
	if _, err := s.history.Record(ctx, answer, q.Category); err != nil {
		logger.Error("Recording history failed", "answer_id", answer.ID, "error", err)
	}
	if err := s.store.IncrementCounters(ctx, q.CompanyID, models.CounterDelta{Questions: 1}, false); err != nil {
		logger.Error("Question counter update failed", "company_id", q.CompanyID, "error", err)
	}
	s.metrics.RecordQuery(time.Since(started).Seconds(), answer.ContextFound)
	return answer, nil
}
