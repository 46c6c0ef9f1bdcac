package services

import (
	"context"
	"errors"
	"fmt"

	"financerag/internal/ai"
	"financerag/internal/chunker"
	"financerag/internal/logger"
	"financerag/internal/store"
	"financerag/models"
)

// ReembedScheduler queues a re-embedding of every company.
type ReembedScheduler interface {
	ReembedAll(ctx context.Context, model string) (int, error)
}

// SettingsService serves the runtime pipeline configuration. Until the
// first save the configured defaults apply.
type SettingsService struct {
	store    store.Settings
	defaults models.Settings
	bound    int
	reembed  ReembedScheduler
}

func NewSettingsService(st store.Settings, defaults models.Settings, maxResultsBound int) *SettingsService {
	if maxResultsBound <= 0 {
		maxResultsBound = 20
	}
	return &SettingsService{store: st, defaults: defaults, bound: maxResultsBound}
}

// SetReembedScheduler wires the registry in after construction.
func (s *SettingsService) SetReembedScheduler(r ReembedScheduler) { s.reembed = r }

func (s *SettingsService) MaxResultsBound() int { return s.bound }

func (s *SettingsService) Current(ctx context.Context) (*models.Settings, error) {
	stored, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if stored == nil {
		d := s.defaults
		d.ID = models.SettingsID
		return &d, nil
	}
	return stored, nil
}

// Update applies patch. Changing the embedding model needs admin rights and
// schedules a re-embedding of every company.
func (s *SettingsService) Update(ctx context.Context, patch models.SettingsPatch, admin bool) (*models.SettingsChange, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	changesEmbedding := patch.ChangesEmbedding(cur)
	if changesEmbedding && !admin {
		return nil, models.ErrPrivilegedSetting
	}

	next := patch.Apply(*cur)
	if err := s.validate(&next); err != nil {
		return nil, err
	}
	if err := s.store.SaveSettings(ctx, &next, cur.Revision); err != nil {
		return nil, err
	}
	logger.Info("Settings updated", "revision", next.Revision, "reembed", changesEmbedding)

	change := &models.SettingsChange{Settings: &next, ReembedRequired: changesEmbedding}
	if !changesEmbedding {
		return change, nil
	}

	model := EmbeddingRef(&next).String()
	if s.reembed == nil {
		change.Warning = "embedding model changed; existing vectors must be re-embedded with " + model
		return change, nil
	}
	n, err := s.reembed.ReembedAll(ctx, model)
	if err != nil {
		logger.Error("Scheduling re-embedding failed", "model", model, "error", err)
		change.Warning = fmt.Sprintf("embedding model changed to %s but re-embedding could not be scheduled: %v", model, err)
		return change, nil
	}
	change.Warning = fmt.Sprintf("embedding model changed to %s; re-embedding %d companies, queries use the previous model until each finishes", model, n)
	return change, nil
}

var knownProviders = map[string]bool{
	ai.ProviderGoogle: true,
	ai.ProviderOpenAI: true,
	ai.ProviderOllama: true,
	ai.ProviderHash:   true,
}

func (s *SettingsService) validate(st *models.Settings) error {
	if err := chunker.Validate(st.ChunkSize, st.ChunkOverlap); err != nil {
		if errors.Is(err, models.ErrInvalidChunkConfig) {
			return &models.ValidationError{Field: "chunk_overlap", Reason: "must be smaller than chunk_size and chunk_size must be positive"}
		}
		return err
	}
	if st.MaxResults < 1 || st.MaxResults > s.bound {
		return &models.ValidationError{Field: "max_results", Reason: fmt.Sprintf("must be between 1 and %d", s.bound)}
	}
	if st.MinScore < 0 || st.MinScore > 1 {
		return &models.ValidationError{Field: "min_score", Reason: "must be between 0 and 1"}
	}
	if !knownProviders[st.EmbeddingProvider] {
		return &models.ValidationError{Field: "embedding_provider", Reason: "unknown provider " + st.EmbeddingProvider}
	}
	if st.EmbeddingModel == "" {
		return &models.ValidationError{Field: "embedding_model", Reason: "required"}
	}
	if st.LLMProvider != "" && (!knownProviders[st.LLMProvider] || st.LLMProvider == ai.ProviderHash) {
		return &models.ValidationError{Field: "llm_provider", Reason: "unknown provider " + st.LLMProvider}
	}
	return nil
}

// EmbeddingRef is the embedding model the settings select.
func EmbeddingRef(st *models.Settings) ai.ModelRef {
	return ai.ModelRef{Provider: st.EmbeddingProvider, Model: st.EmbeddingModel}
}

// companyModel is the model the company's vectors were built with, falling
// back to the current settings for a company with no vectors yet.
func companyModel(c *models.Company, st *models.Settings) ai.ModelRef {
	if c.EmbeddingModel != "" {
		return ai.ParseModelRef(c.EmbeddingModel)
	}
	return EmbeddingRef(st)
}
