package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"financerag/internal/ai"
	"financerag/internal/chunker"
	"financerag/internal/logger"
	"financerag/internal/parser"
	"financerag/internal/store"
	"financerag/internal/telemetry"
	"financerag/internal/vectorindex"
	"financerag/models"
	"financerag/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Dispatcher hands documents and re-embeddings to workers. It is backed by
// asynq or by the local WorkerPool.
type Dispatcher interface {
	DispatchIngest(ctx context.Context, doc *models.Document) error
	DispatchReembed(ctx context.Context, companyID, model string) error
	CancelIngest(ctx context.Context, documentID string) error
}

// Embedder vectorizes texts with a given model. *ai.Batcher implements it.
type Embedder interface {
	Embed(ctx context.Context, ref ai.ModelRef, texts []string) ([][]float32, error)
}

type IngestionConfig struct {
	MaxFileSize int64
	Timeout     time.Duration
}

type IngestionDeps struct {
	Store      store.Store
	Index      vectorindex.Index
	Parser     parser.Parser
	Embedder   Embedder
	Dispatcher Dispatcher
	Settings   *SettingsService
	Files      *FileStore
	Locker     *DocumentLocker
	Fence      *CompanyFence
	Metrics    *telemetry.Metrics
}

// IngestionService moves documents through pending → processing →
// completed | failed. Every transition is a compare-and-set on the stored
// status.
type IngestionService struct {
	IngestionDeps
	cfg IngestionConfig
	now func() time.Time

	// serializes the in-flight check and insert of URL submissions
	submitMu sync.Mutex
}

func NewIngestionService(deps IngestionDeps, cfg IngestionConfig) *IngestionService {
	if deps.Locker == nil {
		deps.Locker = NewDocumentLocker(nil, 0)
	}
	if deps.Fence == nil {
		deps.Fence = NewCompanyFence()
	}
	return &IngestionService{
		IngestionDeps: deps,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// activeCompany loads a company that accepts new documents.
func activeCompany(ctx context.Context, st store.Companies, id string) (*models.Company, error) {
	c, err := st.GetCompany(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == models.CompanyDeleting {
		return nil, models.ErrCompanyDeleting
	}
	return c, nil
}

// SubmitPDF retains the upload and queues it. It returns as soon as the
// pending document is stored.
func (s *IngestionService) SubmitPDF(ctx context.Context, companyID, filename string, content []byte) (*models.Document, error) {
	filename = strings.TrimSpace(filepath.Base(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, &models.ValidationError{Field: "file", Reason: "filename is required"}
	}
	if len(content) == 0 {
		return nil, &models.ValidationError{Field: "file", Reason: "file is empty"}
	}
	if s.cfg.MaxFileSize > 0 && int64(len(content)) > s.cfg.MaxFileSize {
		return nil, &models.ValidationError{Field: "file", Reason: fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSize)}
	}
	if !bytes.HasPrefix(content, []byte("%PDF")) {
		return nil, &models.ParseError{Kind: models.SourcePDF, Origin: filename, Reason: "not a PDF file"}
	}

	company, err := activeCompany(ctx, s.Store, companyID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	path, err := s.Files.Save(company.ID, id, content)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	now := s.now()
	doc := &models.Document{
		ID:          id,
		CompanyID:   company.ID,
		Kind:        models.SourcePDF,
		Origin:      filename,
		Title:       filename,
		StoragePath: path,
		ContentHash: utils.ContentHash(content),
		FileSize:    int64(len(content)),
		Version:     1,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.submit(ctx, doc)
}

// SubmitURL queues a web page. A URL that is already pending or processing
// for the company is rejected.
func (s *IngestionService) SubmitURL(ctx context.Context, companyID, rawURL string) (*models.Document, error) {
	u, err := normalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	company, err := activeCompany(ctx, s.Store, companyID)
	if err != nil {
		return nil, err
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	if err := s.checkNotInFlight(ctx, company.ID, models.SourceURL, u.String()); err != nil {
		return nil, err
	}

	now := s.now()
	doc := &models.Document{
		ID:          uuid.NewString(),
		CompanyID:   company.ID,
		Kind:        models.SourceURL,
		Origin:      u.String(),
		Hostname:    u.Hostname(),
		ContentHash: utils.ContentHash([]byte(u.String())),
		Version:     1,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.submit(ctx, doc)
}

func normalizeURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &models.ValidationError{Field: "url", Reason: "must be an absolute http(s) URL"}
	}
	u.Fragment = ""
	return u, nil
}

func (s *IngestionService) checkNotInFlight(ctx context.Context, companyID string, kind models.SourceKind, origin string) error {
	_, err := s.Store.FindInFlight(ctx, companyID, kind, origin)
	switch {
	case err == nil:
		return models.ErrDocumentInFlight
	case errors.Is(err, models.ErrDocumentNotFound):
		return nil
	default:
		return err
	}
}

func (s *IngestionService) submit(ctx context.Context, doc *models.Document) (*models.Document, error) {
	if err := s.Store.CreateDocument(ctx, doc); err != nil {
		s.Files.Remove(doc.StoragePath)
		return nil, fmt.Errorf("create document: %w", err)
	}
	if err := s.Dispatcher.DispatchIngest(ctx, doc); err != nil {
		logger.Error("Dispatch failed", "document_id", doc.ID, "error", err)
		now := s.now()
		s.Store.TransitionDocument(context.WithoutCancel(ctx), doc.ID, []string{models.StatusPending}, models.StatusFailed, store.DocumentPatch{
			ErrorMessage: "could not queue document: " + err.Error(),
			CompletedAt:  &now,
		})
		return nil, err
	}
	logger.Info("Document submitted", "document_id", doc.ID, "company_id", doc.CompanyID, "kind", doc.Kind, "origin", doc.Origin)
	return doc, nil
}

// Resubmit ingests a new version of a document from its retained upload or
// URL. The previous version is retired once the new one completes.
func (s *IngestionService) Resubmit(ctx context.Context, documentID string) (*models.Document, error) {
	old, err := s.Store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if old.InFlight() {
		return nil, models.ErrDocumentInFlight
	}
	company, err := activeCompany(ctx, s.Store, old.CompanyID)
	if err != nil {
		return nil, err
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	if err := s.checkNotInFlight(ctx, company.ID, old.Kind, old.Origin); err != nil {
		return nil, err
	}

	now := s.now()
	doc := &models.Document{
		ID:          uuid.NewString(),
		CompanyID:   company.ID,
		Kind:        old.Kind,
		Origin:      old.Origin,
		Hostname:    old.Hostname,
		Title:       old.Title,
		ContentHash: old.ContentHash,
		FileSize:    old.FileSize,
		Version:     old.Version + 1,
		PreviousID:  old.ID,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if old.Kind == models.SourcePDF {
		path, err := s.Files.Copy(old.StoragePath, company.ID, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("raw upload of %s is not available: %w", old.ID, err)
		}
		doc.StoragePath = path
	}
	return s.submit(ctx, doc)
}

// Process runs one document through parse → chunk → embed → index. It is
// safe to call more than once for the same document.
func (s *IngestionService) Process(ctx context.Context, documentID string) error {
	release, ok, err := s.Locker.TryLock(ctx, documentID)
	if err != nil {
		return models.Transient("lock document", err)
	}
	if !ok {
		logger.Info("Document is being processed elsewhere", "document_id", documentID)
		return nil
	}
	defer release()

	doc, err := s.Store.GetDocument(ctx, documentID)
	if errors.Is(err, models.ErrDocumentNotFound) {
		logger.Info("Document no longer exists", "document_id", documentID)
		return nil
	}
	if err != nil {
		return models.Transient("load document", err)
	}
	if !doc.InFlight() {
		return nil
	}

	company, err := s.Store.GetCompany(ctx, doc.CompanyID)
	switch {
	case errors.Is(err, models.ErrCompanyNotFound):
		return s.fail(ctx, doc, nil, models.StageParse, models.ErrCompanyNotFound)
	case err != nil:
		return models.Transient("load company", err)
	case company.Status == models.CompanyDeleting:
		return s.fail(ctx, doc, nil, models.StageParse, models.ErrCompanyDeleting)
	case company.Status == models.CompanyReindexing:
		return models.Transient("ingest", fmt.Errorf("company %s is reindexing", company.ID))
	}

	jobCtx, leave, err := s.Fence.Enter(ctx, company.ID)
	if err != nil {
		return s.fail(ctx, doc, nil, models.StageParse, err)
	}
	defer leave()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, s.cfg.Timeout)
		defer cancel()
	}

	started := s.now()
	doc, err = s.Store.TransitionDocument(ctx, doc.ID, []string{models.StatusPending, models.StatusProcessing}, models.StatusProcessing, store.DocumentPatch{StartedAt: &started})
	if errors.Is(err, models.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return models.Transient("start document", err)
	}

	jobCtx, span := telemetry.StartSpan(jobCtx, "ingestion.process",
		attribute.String("document.id", doc.ID),
		attribute.String("company.id", company.ID),
		attribute.String("document.kind", string(doc.Kind)),
	)
	defer span.End()

	err = s.run(jobCtx, doc, company)
	if err != nil {
		telemetry.RecordSpanError(span, err)
	}
	return err
}

func (s *IngestionService) run(ctx context.Context, doc *models.Document, company *models.Company) error {
	log := logger.With("document_id", doc.ID, "company_id", company.ID)
	ns := vectorindex.NamespaceFor(company)

	settings, err := s.Settings.Current(ctx)
	if err != nil {
		return s.fail(ctx, doc, nil, models.StageParse, err)
	}
	ref := companyModel(company, settings)

	// parse
	began := time.Now()
	parsed, err := s.parse(ctx, doc)
	if err != nil {
		return s.fail(ctx, doc, nil, models.StageParse, err)
	}
	s.observe(models.StageParse, began)

	// chunk
	began = time.Now()
	windows, err := chunker.Chunk(parsed.Text, settings.ChunkSize, settings.ChunkOverlap)
	if err == nil && len(windows) == 0 {
		err = &models.ParseError{Kind: doc.Kind, Origin: doc.Origin, Reason: "no text to index"}
	}
	if err != nil {
		return s.fail(ctx, doc, nil, models.StageChunk, err)
	}
	now := s.now()
	chunks := make([]models.Chunk, len(windows))
	texts := make([]string, len(windows))
	for i, w := range windows {
		chunks[i] = models.Chunk{
			ID:         chunker.ChunkID(doc.ID, w.Index),
			DocumentID: doc.ID,
			CompanyID:  company.ID,
			Index:      w.Index,
			Start:      w.Start,
			End:        w.End,
			Text:       w.Text,
			Status:     models.ChunkPending,
			CreatedAt:  now,
		}
		texts[i] = w.Text
	}
	if err := s.Store.SaveChunks(ctx, chunks); err != nil {
		return s.fail(ctx, doc, nil, models.StageChunk, err)
	}
	tables := make([]models.Table, len(parsed.Tables))
	for i, t := range parsed.Tables {
		t.ID = uuid.NewString()
		t.DocumentID = doc.ID
		t.CompanyID = company.ID
		tables[i] = t
	}
	if err := s.Store.SaveTables(ctx, doc.ID, tables); err != nil {
		return s.fail(ctx, doc, nil, models.StageChunk, err)
	}
	s.observe(models.StageChunk, began)

	// embed
	began = time.Now()
	vectors, err := s.Embedder.Embed(ctx, ref, texts)
	if err != nil {
		return s.failEmbed(ctx, doc, chunks, err)
	}
	for i := range chunks {
		chunks[i].Vector = vectors[i]
		chunks[i].Status = models.ChunkEmbedded
	}
	if err := s.Store.SaveChunks(ctx, chunks); err != nil {
		return s.failEmbed(ctx, doc, chunks, err)
	}
	s.observe(models.StageEmbed, began)

	// index
	began = time.Now()
	records := make([]vectorindex.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorindex.Record{
			ChunkID:    c.ID,
			DocumentID: doc.ID,
			CompanyID:  company.ID,
			Kind:       doc.Kind,
			Origin:     doc.Origin,
			Index:      c.Index,
			Start:      c.Start,
			End:        c.End,
			Text:       c.Text,
			Vector:     c.Vector,
			IngestedAt: now,
		}
	}
	if err := s.Index.EnsureNamespace(ctx, ns, len(vectors[0])); err != nil {
		return s.fail(ctx, doc, &ns, models.StageIndex, err)
	}
	if err := s.Index.Upsert(ctx, ns, records); err != nil {
		return s.fail(ctx, doc, &ns, models.StageIndex, err)
	}
	s.observe(models.StageIndex, began)

	// commit
	current, err := s.Store.GetCompany(ctx, company.ID)
	if err == nil && current.Status == models.CompanyDeleting {
		err = models.ErrCompanyDeleting
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return s.fail(ctx, doc, &ns, models.StageCommit, err)
	}
	if current.Status == models.CompanyReindexing || current.IndexGeneration != ns.Generation() {
		// a rebuild may already have listed the company's documents without
		// this one; start over once it is done
		return s.requeue(ctx, doc, ns)
	}
	completed := s.now()
	title := parsed.Title
	if title == "" {
		title = doc.Title
	}
	_, err = s.Store.TransitionDocument(ctx, doc.ID, []string{models.StatusProcessing}, models.StatusCompleted, store.DocumentPatch{
		CompletedAt: &completed,
		Result: &models.DocumentResult{
			Title:          title,
			Hostname:       parsed.Hostname,
			PageCount:      parsed.PageCount,
			WordCount:      parsed.WordCount,
			TableCount:     len(tables),
			ChunkCount:     len(chunks),
			PublishDate:    parsed.PublishDate,
			EmbeddingModel: ref.String(),
		},
	})
	if err != nil {
		return s.fail(ctx, doc, &ns, models.StageCommit, err)
	}
	// vectors become visible only once the document is completed
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	err = s.Index.Publish(pctx, ns, doc.ID)
	cancel()
	if err != nil {
		return s.failFrom(ctx, doc, &ns, models.StageIndex, err, models.StatusCompleted)
	}
	if company.EmbeddingModel == "" {
		if err := s.Store.SwitchIndex(ctx, company.ID, ref.String(), company.IndexGeneration); err != nil {
			log.Warn("Recording company embedding model failed", "error", err)
		}
	}
	if err := s.Store.IncrementCounters(ctx, company.ID, models.DeltaFor(doc.Kind, 1), true); err != nil {
		log.Error("Counter update failed", "error", err)
	}

	if doc.PreviousID != "" {
		s.retire(context.WithoutCancel(ctx), company, doc.PreviousID)
	}
	log.Info("Document ingested", "chunks", len(chunks), "tables", len(tables), "model", ref.String())
	return nil
}

func (s *IngestionService) parse(ctx context.Context, doc *models.Document) (*parser.Parsed, error) {
	var raw []byte
	switch doc.Kind {
	case models.SourcePDF:
		content, err := s.Files.Read(doc.StoragePath)
		if err != nil {
			return nil, &models.ParseError{Kind: doc.Kind, Origin: doc.Origin, Reason: "raw upload missing", Err: err}
		}
		raw = content
	case models.SourceURL:
		raw = []byte(doc.Origin)
	default:
		return nil, &models.ParseError{Kind: doc.Kind, Origin: doc.Origin, Reason: "unsupported kind"}
	}
	return s.Parser.Parse(ctx, raw, doc.Kind)
}

func (s *IngestionService) observe(stage models.Stage, began time.Time) {
	s.Metrics.RecordIngestStage(string(stage), "ok", time.Since(began).Seconds())
}

// fail removes whatever the document left in the index and store, marks it
// failed at stage and returns the terminal error. Chunks of a document that
// failed to embed are kept, marked failed by failEmbed.
func (s *IngestionService) fail(ctx context.Context, doc *models.Document, ns *vectorindex.Namespace, stage models.Stage, cause error) error {
	return s.failFrom(ctx, doc, ns, stage, cause, models.StatusPending, models.StatusProcessing)
}

func (s *IngestionService) failFrom(ctx context.Context, doc *models.Document, ns *vectorindex.Namespace, stage models.Stage, cause error, from ...string) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	log := logger.With("document_id", doc.ID, "company_id", doc.CompanyID, "stage", stage)

	if ns != nil {
		s.dropVectors(cctx, doc, *ns)
	}
	if stage != models.StageEmbed {
		if err := s.Store.DeleteDocumentChunks(cctx, doc.ID); err != nil {
			log.Error("Removing chunks of failed document failed", "error", err)
		}
	}
	if err := s.Store.DeleteDocumentTables(cctx, doc.ID); err != nil {
		log.Error("Removing tables of failed document failed", "error", err)
	}

	now := s.now()
	_, err := s.Store.TransitionDocument(cctx, doc.ID, from, models.StatusFailed, store.DocumentPatch{
		FailedStage:  stage,
		ErrorMessage: cause.Error(),
		CompletedAt:  &now,
	})
	if err != nil && !errors.Is(err, models.ErrStatusConflict) {
		log.Error("Marking document failed failed", "error", err)
	}
	s.Metrics.RecordIngestStage(string(stage), "failed", 0)
	log.Warn("Document ingestion failed", "error", cause)
	return &models.IngestFailedError{DocumentID: doc.ID, Stage: stage, Err: cause}
}

// failEmbed marks every chunk failed with no vector and fails the document
// at the embed stage.
func (s *IngestionService) failEmbed(ctx context.Context, doc *models.Document, chunks []models.Chunk, cause error) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	failed := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		c.Vector = nil
		c.Status = models.ChunkFailed
		failed[i] = c
	}
	if err := s.Store.SaveChunks(cctx, failed); err != nil {
		logger.Error("Marking chunks failed failed", "document_id", doc.ID, "error", err)
	}
	return s.fail(ctx, doc, nil, models.StageEmbed, cause)
}

// dropVectors removes the document's vectors from ns. When the company is
// gone, being deleted, or has moved to another generation, the namespace is
// dropped whole so cleanup never recreates a namespace nobody owns.
func (s *IngestionService) dropVectors(ctx context.Context, doc *models.Document, ns vectorindex.Namespace) {
	current, err := s.Store.GetCompany(ctx, doc.CompanyID)
	orphaned := errors.Is(err, models.ErrCompanyNotFound) ||
		(err == nil && (current.Status == models.CompanyDeleting || current.IndexGeneration != ns.Generation()))
	if orphaned {
		err = s.Index.DropNamespace(ctx, ns)
	} else {
		err = s.Index.DeleteDocument(ctx, ns, doc.ID)
	}
	if err != nil {
		logger.Error("Removing vectors of document failed", "document_id", doc.ID, "namespace", ns.Name(), "error", err)
	}
}

// requeue undoes a run whose company started or finished a re-indexing
// meanwhile, puts the document back to pending and asks for a retry.
func (s *IngestionService) requeue(ctx context.Context, doc *models.Document, ns vectorindex.Namespace) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	s.dropVectors(cctx, doc, ns)
	if _, err := s.Store.TransitionDocument(cctx, doc.ID, []string{models.StatusProcessing}, models.StatusPending, store.DocumentPatch{}); err != nil {
		logger.Error("Returning document to pending failed", "document_id", doc.ID, "error", err)
	}
	logger.Info("Company index changed during ingestion, retrying", "document_id", doc.ID, "company_id", doc.CompanyID)
	return models.Transient("ingest", fmt.Errorf("index of company %s changed during ingestion", doc.CompanyID))
}

// retire removes a superseded version once its successor is completed.
func (s *IngestionService) retire(ctx context.Context, company *models.Company, documentID string) {
	prev, err := s.Store.GetDocument(ctx, documentID)
	if err != nil || prev.InFlight() {
		return
	}
	if err := s.remove(ctx, prev, company); err != nil {
		logger.Error("Retiring previous version failed", "document_id", documentID, "error", err)
	}
}

// DeleteDocument removes a document with its vectors, chunks, tables and
// raw upload. A document that is being processed cannot be deleted.
func (s *IngestionService) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := s.Store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	switch doc.Status {
	case models.StatusProcessing:
		return models.ErrDocumentInFlight
	case models.StatusPending:
		if err := s.Dispatcher.CancelIngest(ctx, doc.ID); err != nil {
			logger.Warn("Cancelling queued document failed", "document_id", doc.ID, "error", err)
		}
		now := s.now()
		doc, err = s.Store.TransitionDocument(ctx, doc.ID, []string{models.StatusPending}, models.StatusFailed, store.DocumentPatch{
			ErrorMessage: "deleted",
			CompletedAt:  &now,
		})
		if errors.Is(err, models.ErrStatusConflict) {
			return models.ErrDocumentInFlight
		}
		if err != nil {
			return err
		}
	}

	company, err := s.Store.GetCompany(ctx, doc.CompanyID)
	if err != nil && !errors.Is(err, models.ErrCompanyNotFound) {
		return err
	}
	return s.remove(ctx, doc, company)
}

// remove deletes a settled document. company may be nil when it is gone.
func (s *IngestionService) remove(ctx context.Context, doc *models.Document, company *models.Company) error {
	if company != nil {
		if err := s.Index.DeleteDocument(ctx, vectorindex.NamespaceFor(company), doc.ID); err != nil {
			return fmt.Errorf("delete vectors: %w", err)
		}
	}
	if err := s.Store.DeleteDocumentChunks(ctx, doc.ID); err != nil {
		return err
	}
	if err := s.Store.DeleteDocumentTables(ctx, doc.ID); err != nil {
		return err
	}
	if err := s.Store.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	if err := s.Files.Remove(doc.StoragePath); err != nil {
		logger.Warn("Removing raw upload failed", "document_id", doc.ID, "error", err)
	}
	if company != nil && doc.Status == models.StatusCompleted {
		if err := s.Store.IncrementCounters(ctx, company.ID, models.DeltaFor(doc.Kind, -1), true); err != nil {
			return err
		}
	}
	logger.Info("Document removed", "document_id", doc.ID, "company_id", doc.CompanyID)
	return nil
}

func (s *IngestionService) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return s.Store.GetDocument(ctx, id)
}

func (s *IngestionService) ListDocuments(ctx context.Context, f models.DocumentFilter) ([]models.Document, int64, error) {
	if _, err := s.Store.GetCompany(ctx, f.CompanyID); err != nil {
		return nil, 0, err
	}
	return s.Store.ListDocuments(ctx, f)
}

func (s *IngestionService) ListTables(ctx context.Context, documentID string) ([]models.Table, error) {
	if _, err := s.Store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.Store.ListTables(ctx, documentID)
}
