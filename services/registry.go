package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"financerag/internal/ai"
	"financerag/internal/logger"
	"financerag/internal/store"
	"financerag/internal/vectorindex"
	"financerag/models"

	"github.com/google/uuid"
)

type CompanyInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Website     string `json:"website"`
}

// RegistryService owns the company lifecycle: registration, counters,
// deletion, clearing and re-embedding.
type RegistryService struct {
	store      store.Store
	index      vectorindex.Index
	embedder   Embedder
	dispatcher Dispatcher
	settings   *SettingsService
	files      *FileStore
	fence      *CompanyFence

	settleTimeout time.Duration
	pollInterval  time.Duration
	now           func() time.Time
}

type RegistryDeps struct {
	Store      store.Store
	Index      vectorindex.Index
	Embedder   Embedder
	Dispatcher Dispatcher
	Settings   *SettingsService
	Files      *FileStore
	Fence      *CompanyFence
}

func NewRegistryService(deps RegistryDeps, settleTimeout time.Duration) *RegistryService {
	if settleTimeout <= 0 {
		settleTimeout = 30 * time.Second
	}
	return &RegistryService{
		store:         deps.Store,
		index:         deps.Index,
		embedder:      deps.Embedder,
		dispatcher:    deps.Dispatcher,
		settings:      deps.Settings,
		files:         deps.Files,
		fence:         deps.Fence,
		settleTimeout: settleTimeout,
		pollInterval:  250 * time.Millisecond,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (r *RegistryService) CreateCompany(ctx context.Context, in CompanyInput) (*models.Company, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &models.ValidationError{Field: "name", Reason: "required"}
	}
	if len(name) > 200 {
		return nil, &models.ValidationError{Field: "name", Reason: "must be at most 200 characters"}
	}
	website := strings.TrimSpace(in.Website)
	if website != "" {
		u, err := normalizeURL(website)
		if err != nil {
			return nil, &models.ValidationError{Field: "website", Reason: "must be an absolute http(s) URL"}
		}
		website = u.String()
	}
	st, err := r.settings.Current(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	id := uuid.NewString()
	c := &models.Company{
		ID:             id,
		Name:           name,
		Slug:           models.Slugify(name),
		Description:    strings.TrimSpace(in.Description),
		Website:        website,
		Namespace:      models.NamespaceName(id),
		Status:         models.CompanyActive,
		EmbeddingModel: EmbeddingRef(st).String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.CreateCompany(ctx, c); err != nil {
		return nil, err
	}
	logger.Info("Company registered", "company_id", c.ID, "name", c.Name, "namespace", c.Namespace)
	return c, nil
}

func (r *RegistryService) GetCompany(ctx context.Context, id string) (*models.Company, error) {
	return r.store.GetCompany(ctx, id)
}

func (r *RegistryService) ListCompanies(ctx context.Context) ([]models.Company, error) {
	return r.store.ListCompanies(ctx)
}

func (r *RegistryService) Stats(ctx context.Context, id string) (*models.CompanyStats, error) {
	c, err := r.store.GetCompany(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := r.store.CountDocumentsByStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	vectors, err := r.index.Count(ctx, vectorindex.NamespaceFor(c))
	if err != nil {
		return nil, fmt.Errorf("count vectors: %w", err)
	}
	return &models.CompanyStats{
		Company:           c,
		DocumentsByStatus: counts[models.SourcePDF],
		URLsByStatus:      counts[models.SourceURL],
		IndexedVectors:    vectors,
	}, nil
}

// Overview sums the stats of every company.
func (r *RegistryService) Overview(ctx context.Context) (*models.RegistryStats, error) {
	companies, err := r.store.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	out := &models.RegistryStats{
		Companies:         len(companies),
		CompaniesByStatus: make(map[string]int64),
		DocumentsByStatus: make(map[string]int64),
		URLsByStatus:      make(map[string]int64),
	}
	for i := range companies {
		c := &companies[i]
		out.CompaniesByStatus[c.Status]++
		out.Documents += c.DocumentCount
		out.URLs += c.URLCount
		out.Questions += c.QuestionCount

		counts, err := r.store.CountDocumentsByStatus(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		for status, n := range counts[models.SourcePDF] {
			out.DocumentsByStatus[status] += n
		}
		for status, n := range counts[models.SourceURL] {
			out.URLsByStatus[status] += n
		}
		if c.Status == models.CompanyDeleting {
			continue
		}
		vectors, err := r.index.Count(ctx, vectorindex.NamespaceFor(c))
		if err != nil {
			return nil, fmt.Errorf("count vectors of %s: %w", c.ID, err)
		}
		out.IndexedVectors += vectors
	}
	return out, nil
}

// DeleteCompany fences the company, cancels and waits for its jobs, drops
// its namespace and deletes everything it owns. Calling it again after a
// partial failure resumes the deletion.
func (r *RegistryService) DeleteCompany(ctx context.Context, id string) error {
	c, err := r.store.SetCompanyStatus(ctx, id,
		[]string{models.CompanyActive, models.CompanyReindexing, models.CompanyDeleting}, models.CompanyDeleting)
	if err != nil {
		return err
	}
	log := logger.With("company_id", id)
	log.Info("Deleting company")

	r.quiesce(ctx, c)
	if err := r.dropNamespaces(ctx, c); err != nil {
		return err
	}
	if err := r.deleteContent(ctx, c.ID); err != nil {
		return err
	}
	if err := r.store.DeleteCompanyHistory(ctx, c.ID); err != nil {
		return err
	}
	if err := r.store.DeleteCompany(ctx, c.ID); err != nil && !errors.Is(err, models.ErrCompanyNotFound) {
		return err
	}
	r.fence.Reopen(c.ID)
	log.Info("Company deleted")
	return nil
}

// ClearKnowledgeBase removes every document of the company but keeps the
// company and its question history.
func (r *RegistryService) ClearKnowledgeBase(ctx context.Context, id string) error {
	c, err := r.store.SetCompanyStatus(ctx, id, []string{models.CompanyActive}, models.CompanyDeleting)
	if errors.Is(err, models.ErrStatusConflict) {
		return models.ErrCompanyDeleting
	}
	if err != nil {
		return err
	}
	defer func() {
		rctx := context.WithoutCancel(ctx)
		if _, err := r.store.SetCompanyStatus(rctx, id, []string{models.CompanyDeleting}, models.CompanyActive); err != nil {
			logger.Error("Reactivating company failed", "company_id", id, "error", err)
		}
		r.fence.Reopen(id)
	}()

	r.quiesce(ctx, c)
	if err := r.dropNamespaces(ctx, c); err != nil {
		return err
	}
	if err := r.deleteContent(ctx, c.ID); err != nil {
		return err
	}
	if err := r.store.ResetCounters(ctx, c.ID); err != nil {
		return err
	}
	logger.Info("Knowledge base cleared", "company_id", id)
	return nil
}

// quiesce cancels the company's jobs and waits, bounded, for processing
// documents to settle.
func (r *RegistryService) quiesce(ctx context.Context, c *models.Company) {
	r.fence.Close(c.ID)
	for _, status := range []string{models.StatusPending, models.StatusProcessing} {
		docs, _, err := r.store.ListDocuments(ctx, models.DocumentFilter{CompanyID: c.ID, Status: status, Limit: -1})
		if err != nil {
			logger.Error("Listing in-flight documents failed", "company_id", c.ID, "error", err)
			continue
		}
		for _, d := range docs {
			if err := r.dispatcher.CancelIngest(ctx, d.ID); err != nil {
				logger.Warn("Cancelling document failed", "document_id", d.ID, "error", err)
			}
		}
	}

	wctx, cancel := context.WithTimeout(ctx, r.settleTimeout)
	defer cancel()
	if err := r.awaitSettled(wctx, c.ID); err != nil {
		logger.Warn("In-flight documents did not settle in time", "company_id", c.ID, "error", err)
	}
}

func (r *RegistryService) awaitSettled(ctx context.Context, companyID string) error {
	if err := r.fence.Wait(ctx, companyID); err != nil {
		return err
	}
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		counts, err := r.store.CountDocumentsByStatus(ctx, companyID)
		if err != nil {
			return err
		}
		if counts[models.SourcePDF][models.StatusProcessing]+counts[models.SourceURL][models.StatusProcessing] == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// dropNamespaces drops the live generation and the one a re-embedding may
// have been building.
func (r *RegistryService) dropNamespaces(ctx context.Context, c *models.Company) error {
	for _, gen := range []int{c.IndexGeneration, c.IndexGeneration + 1} {
		if err := r.index.DropNamespace(ctx, vectorindex.NamespaceAt(c, gen)); err != nil {
			return fmt.Errorf("drop namespace: %w", err)
		}
	}
	return nil
}

func (r *RegistryService) deleteContent(ctx context.Context, companyID string) error {
	if _, err := r.store.DeleteCompanyDocuments(ctx, companyID); err != nil {
		return err
	}
	if err := r.store.DeleteCompanyChunks(ctx, companyID); err != nil {
		return err
	}
	if err := r.store.DeleteCompanyTables(ctx, companyID); err != nil {
		return err
	}
	if err := r.files.RemoveCompany(companyID); err != nil {
		logger.Warn("Removing raw uploads failed", "company_id", companyID, "error", err)
	}
	return nil
}

// Reembed rebuilds the company's index with model in the next generation and
// switches to it. Queries use the old generation until the switch.
func (r *RegistryService) Reembed(ctx context.Context, companyID, model string) error {
	ref := ai.ParseModelRef(model)
	c, err := r.store.SetCompanyStatus(ctx, companyID, []string{models.CompanyActive}, models.CompanyReindexing)
	if errors.Is(err, models.ErrStatusConflict) {
		current, gerr := r.store.GetCompany(ctx, companyID)
		if gerr == nil && current.Status == models.CompanyReindexing {
			return models.Transient("reembed", fmt.Errorf("company %s is already reindexing", companyID))
		}
		return models.ErrCompanyDeleting
	}
	if err != nil {
		return err
	}
	log := logger.With("company_id", companyID, "model", ref.String(), "generation", c.IndexGeneration+1)
	log.Info("Re-embedding company")

	oldNS := vectorindex.NamespaceFor(c)
	newNS := vectorindex.NamespaceAt(c, c.IndexGeneration+1)
	if err := r.rebuild(ctx, c, newNS, ref); err != nil {
		rctx := context.WithoutCancel(ctx)
		if derr := r.index.DropNamespace(rctx, newNS); derr != nil {
			log.Error("Dropping partial generation failed", "error", derr)
		}
		if _, serr := r.store.SetCompanyStatus(rctx, companyID, []string{models.CompanyReindexing}, models.CompanyActive); serr != nil {
			log.Error("Reactivating company failed", "error", serr)
		}
		log.Error("Re-embedding failed", "error", err)
		return err
	}

	if err := r.store.SwitchIndex(ctx, companyID, ref.String(), newNS.Generation()); err != nil {
		r.index.DropNamespace(context.WithoutCancel(ctx), newNS)
		return err
	}
	if err := r.index.DropNamespace(ctx, oldNS); err != nil {
		log.Warn("Dropping previous generation failed", "error", err)
	}
	log.Info("Re-embedding completed")
	return nil
}

func (r *RegistryService) rebuild(ctx context.Context, c *models.Company, ns vectorindex.Namespace, ref ai.ModelRef) error {
	wctx, cancel := context.WithTimeout(ctx, r.settleTimeout)
	err := r.awaitSettled(wctx, c.ID)
	cancel()
	if err != nil {
		return models.Transient("reembed", fmt.Errorf("documents still processing: %w", err))
	}

	if err := r.index.DropNamespace(ctx, ns); err != nil {
		return err
	}
	docs, _, err := r.store.ListDocuments(ctx, models.DocumentFilter{CompanyID: c.ID, Status: models.StatusCompleted, Limit: -1})
	if err != nil {
		return err
	}
	ensured := false
	for _, d := range docs {
		chunks, err := r.store.ListChunks(ctx, d.ID)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			continue
		}
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Text
		}
		vectors, err := r.embedder.Embed(ctx, ref, texts)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", d.ID, err)
		}
		if !ensured {
			if err := r.index.EnsureNamespace(ctx, ns, len(vectors[0])); err != nil {
				return err
			}
			ensured = true
		}
		ingested := d.UpdatedAt
		if d.CompletedAt != nil {
			ingested = *d.CompletedAt
		}
		records := make([]vectorindex.Record, len(chunks))
		for i, ch := range chunks {
			records[i] = vectorindex.Record{
				ChunkID:    ch.ID,
				DocumentID: d.ID,
				CompanyID:  c.ID,
				Kind:       d.Kind,
				Origin:     d.Origin,
				Index:      ch.Index,
				Start:      ch.Start,
				End:        ch.End,
				Text:       ch.Text,
				Vector:     vectors[i],
				IngestedAt: ingested,
			}
		}
		if err := r.index.Upsert(ctx, ns, records); err != nil {
			return err
		}
		if err := r.index.Publish(ctx, ns, d.ID); err != nil {
			return err
		}
	}
	return nil
}

// ReembedAll queues a re-embedding of every company with model.
func (r *RegistryService) ReembedAll(ctx context.Context, model string) (int, error) {
	companies, err := r.store.ListCompanies(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range companies {
		if c.Status == models.CompanyDeleting || c.EmbeddingModel == model {
			continue
		}
		if err := r.dispatcher.DispatchReembed(ctx, c.ID, model); err != nil {
			return n, fmt.Errorf("queue re-embedding of %s: %w", c.ID, err)
		}
		n++
	}
	return n, nil
}
