package services

import (
	"context"
	"time"

	"financerag/internal/store"
	"financerag/internal/vectorindex"
	"financerag/models"
)

// BreakerState reports the LLM circuit breaker state; *ai.Guarded
// implements it.
type BreakerState interface {
	State() string
}

type StatusService struct {
	store      store.Store
	index      vectorindex.Index
	settings   *SettingsService
	llm        BreakerState
	ingestMode string
}

func NewStatusService(st store.Store, index vectorindex.Index, settings *SettingsService, llm BreakerState, ingestMode string) *StatusService {
	return &StatusService{store: st, index: index, settings: settings, llm: llm, ingestMode: ingestMode}
}

// Status reports "ok" when the store and the vector index answer, and
// "degraded" otherwise.
func (s *StatusService) Status(ctx context.Context) *models.RAGStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out := &models.RAGStatus{
		Status:        "ok",
		VectorBackend: s.index.Backend(),
		VectorStore:   "reachable",
		IngestMode:    s.ingestMode,
		LLMAvailable:  s.llm == nil || s.llm.State() != "open",
	}
	if st, err := s.settings.Current(ctx); err == nil {
		out.EmbeddingModel = EmbeddingRef(st).String()
		out.LLMModel = st.LLMProvider + ":" + st.LLMModel
	} else {
		out.Status = "degraded"
	}
	if err := s.index.Ping(ctx); err != nil {
		out.Status = "degraded"
		out.VectorStore = "unreachable: " + err.Error()
	}
	if err := s.store.Ping(ctx); err != nil {
		out.Status = "degraded"
	}
	return out
}
