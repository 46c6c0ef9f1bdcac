package services

import (
	"context"
	"errors"
	"strings"

	"financerag/internal/store"
	"financerag/internal/telemetry"
	"financerag/internal/vectorindex"
	"financerag/models"

	"go.opentelemetry.io/otel/attribute"
)

// Retriever finds the chunks of one company most similar to a question.
type Retriever struct {
	store    store.Companies
	index    vectorindex.Index
	embedder Embedder
	settings *SettingsService
}

func NewRetriever(st store.Companies, index vectorindex.Index, embedder Embedder, settings *SettingsService) *Retriever {
	return &Retriever{store: st, index: index, embedder: embedder, settings: settings}
}

// Retrieve returns the k best chunks, less any below the optional minimum
// score. k <= 0 selects the configured default; larger values are clamped to the
// bound. An empty result is valid; an empty knowledge base is not.
func (r *Retriever) Retrieve(ctx context.Context, companyID, question string, k int) ([]models.RetrievedChunk, *models.Company, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, nil, &models.ValidationError{Field: "question", Reason: "required"}
	}
	company, err := r.store.GetCompany(ctx, companyID)
	if errors.Is(err, models.ErrCompanyNotFound) || (err == nil && company.Status == models.CompanyDeleting) {
		return nil, nil, models.ErrCompanyNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	st, err := r.settings.Current(ctx)
	if err != nil {
		return nil, nil, err
	}
	k = clampK(k, st.MaxResults, r.settings.MaxResultsBound())

	ctx, span := telemetry.StartSpan(ctx, "retriever.retrieve",
		attribute.String("company.id", company.ID),
		attribute.Int("retriever.k", k),
	)
	defer span.End()

	ns := vectorindex.NamespaceFor(company)
	n, err := r.index.Count(ctx, ns)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, nil, err
	}
	if n == 0 {
		return nil, company, models.ErrEmptyKnowledgeBase
	}

	vectors, err := r.embedder.Embed(ctx, companyModel(company, st), []string{question})
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, nil, err
	}
	hits, err := r.index.Query(ctx, ns, vectors[0], k)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, nil, err
	}

	out := make([]models.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		if st.MinScore > 0 && h.Score < st.MinScore {
			continue
		}
		out = append(out, models.RetrievedChunk{
			ChunkID:    h.ChunkID,
			DocumentID: h.DocumentID,
			CompanyID:  h.CompanyID,
			Kind:       h.Kind,
			Origin:     h.Origin,
			Index:      h.Index,
			Start:      h.Start,
			End:        h.End,
			Text:       h.Text,
			Score:      h.Score,
			IngestedAt: h.IngestedAt,
		})
	}
	span.SetAttributes(attribute.Int("retriever.hits", len(out)))
	return out, company, nil
}

func clampK(k, def, bound int) int {
	if k <= 0 {
		k = def
	}
	if k <= 0 {
		k = 10
	}
	if bound > 0 && k > bound {
		k = bound
	}
	return k
}
