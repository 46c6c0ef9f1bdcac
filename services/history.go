package services

import (
	"context"
	"strings"

	"financerag/internal/store"
	"financerag/models"
)

// HistoryService is the append-only log of answered questions.
type HistoryService struct {
	store      store.History
	classifier Classifier
}

func NewHistoryService(st store.History, classifier Classifier) *HistoryService {
	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	return &HistoryService{store: st, classifier: classifier}
}

// Record appends answer. An empty category is derived by the classifier.
func (h *HistoryService) Record(ctx context.Context, answer *models.Answer, category string) (*models.HistoryItem, error) {
	if category == "" || !models.ValidCategory(category) {
		category = h.classifier.Classify(answer.Query.Question, answer.Text)
	}
	item := models.NewHistoryItem(answer, category)
	if err := h.store.InsertHistory(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (h *HistoryService) Search(ctx context.Context, f models.HistoryFilter) ([]models.HistoryItem, int64, error) {
	if f.Category != "" && !models.ValidCategory(f.Category) {
		return nil, 0, &models.ValidationError{Field: "category", Reason: "must be one of " + strings.Join(models.Categories, ", ")}
	}
	f.Search = strings.TrimSpace(f.Search)
	return h.store.SearchHistory(ctx, f)
}

func (h *HistoryService) Get(ctx context.Context, id string) (*models.HistoryItem, error) {
	return h.store.GetHistory(ctx, id)
}

func (h *HistoryService) Delete(ctx context.Context, id string) error {
	return h.store.DeleteHistory(ctx, id)
}

func (h *HistoryService) Stats(ctx context.Context, companyID string) (*models.HistoryStats, error) {
	stats, err := h.store.HistoryStats(ctx, companyID)
	if err != nil {
		return nil, err
	}
	for _, c := range models.Categories {
		if _, ok := stats.ByCategory[c]; !ok {
			if stats.ByCategory == nil {
				stats.ByCategory = make(map[string]int64)
			}
			stats.ByCategory[c] = 0
		}
	}
	return stats, nil
}
