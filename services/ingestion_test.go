package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"financerag/internal/store"
	"financerag/internal/vectorindex"
	"financerag/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const annualReport = "Acme Corp annual report. Revenue grew twelve percent to four billion dollars. " +
	"Operating expenses rose on higher marketing spend. The main risks are currency exposure and supplier concentration."

// upsertFailingIndex writes the records and then reports a failure, leaving
// vectors behind for the caller to clean up.
type upsertFailingIndex struct {
	vectorindex.Index
}

func (f upsertFailingIndex) Upsert(ctx context.Context, ns vectorindex.Namespace, records []vectorindex.Record) error {
	if err := f.Index.Upsert(ctx, ns, records); err != nil {
		return err
	}
	return errors.New("index unavailable")
}

func vectorCount(t *testing.T, h *harness, companyID string) int {
	t.Helper()
	c, err := h.store.GetCompany(context.Background(), companyID)
	require.NoError(t, err)
	n, err := h.index.Count(context.Background(), vectorindex.NamespaceFor(c))
	require.NoError(t, err)
	return n
}

func TestSubmitPDFQueuesPendingDocument(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")

	doc, err := h.ingestion.SubmitPDF(context.Background(), c.ID, "report.pdf", []byte(pdfPrefix+annualReport))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, doc.Status)
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, []string{doc.ID}, h.dispatcher.ingests)

	raw, err := h.files.Read(doc.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, pdfPrefix+annualReport, string(raw))
}

func TestSubmitPDFValidation(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()

	_, err := h.ingestion.SubmitPDF(ctx, c.ID, "", []byte(pdfPrefix+"x"))
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = h.ingestion.SubmitPDF(ctx, c.ID, "empty.pdf", nil)
	assert.ErrorAs(t, err, &verr)

	_, err = h.ingestion.SubmitPDF(ctx, c.ID, "notes.txt", []byte("plain text"))
	var perr *models.ParseError
	assert.ErrorAs(t, err, &perr)

	_, err = h.ingestion.SubmitPDF(ctx, "missing", "report.pdf", []byte(pdfPrefix+"x"))
	assert.ErrorIs(t, err, models.ErrCompanyNotFound)

	assert.Empty(t, h.dispatcher.ingests)
}

func TestSubmitRejectsDeletingCompany(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()
	_, err := h.store.SetCompanyStatus(ctx, c.ID, []string{models.CompanyActive}, models.CompanyDeleting)
	require.NoError(t, err)

	_, err = h.ingestion.SubmitPDF(ctx, c.ID, "report.pdf", []byte(pdfPrefix+annualReport))
	assert.ErrorIs(t, err, models.ErrCompanyDeleting)
	_, err = h.ingestion.SubmitURL(ctx, c.ID, "https://acme.example/ir")
	assert.ErrorIs(t, err, models.ErrCompanyDeleting)
}

func TestSubmitURLRejectsInFlightDuplicate(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()

	doc, err := h.ingestion.SubmitURL(ctx, c.ID, "https://acme.example/ir#top")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example/ir", doc.Origin)
	assert.Equal(t, "acme.example", doc.Hostname)

	_, err = h.ingestion.SubmitURL(ctx, c.ID, "https://acme.example/ir")
	assert.ErrorIs(t, err, models.ErrDocumentInFlight)

	_, err = h.ingestion.SubmitURL(ctx, c.ID, "ftp://acme.example/ir")
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSubmitMarksDocumentFailedWhenDispatchFails(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	h.dispatcher.err = errors.New("queue down")

	_, err := h.ingestion.SubmitURL(context.Background(), c.ID, "https://acme.example/ir")
	require.Error(t, err)

	docs, _, err := h.store.ListDocuments(context.Background(), models.DocumentFilter{CompanyID: c.ID, Limit: -1})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, models.StatusFailed, docs[0].Status)
	assert.Contains(t, docs[0].ErrorMessage, "queue down")
}

func TestProcessCompletesDocument(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	h.parser.tables = []models.Table{{Page: 1, Title: "Revenue", Header: []string{"Year", "USD"}, Rows: [][]string{{"2023", "4bn"}}}}

	doc := h.ingestPDF(t, c.ID, "report.pdf", annualReport)

	chunks, err := h.store.ListChunks(context.Background(), doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.Equal(t, models.ChunkEmbedded, ch.Status)
		assert.Len(t, ch.Vector, 128)
	}
	assert.Equal(t, len(chunks), doc.ChunkCount)
	assert.Equal(t, 1, doc.TableCount)
	assert.Equal(t, "hash:test-v1", doc.EmbeddingModel)
	assert.NotNil(t, doc.CompletedAt)
	assert.Equal(t, len(chunks), vectorCount(t, h, c.ID))

	tables, err := h.ingestion.ListTables(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, c.ID, tables[0].CompanyID)

	company, err := h.store.GetCompany(context.Background(), c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, company.DocumentCount)
	assert.NotNil(t, company.LastUpdatedAt)
}

func TestProcessChunksWithConfiguredWindow(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	size, overlap := 1000, 200
	_, err := h.settings.Update(context.Background(), models.SettingsPatch{ChunkSize: &size, ChunkOverlap: &overlap}, false)
	require.NoError(t, err)

	doc := h.ingestPDF(t, c.ID, "long.pdf", strings.Repeat("revenue ", 300))

	chunks, err := h.store.ListChunks(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, [2]int{0, 1000}, [2]int{chunks[0].Start, chunks[0].End})
	assert.Equal(t, [2]int{800, 1800}, [2]int{chunks[1].Start, chunks[1].End})
	assert.Equal(t, [2]int{1600, 2400}, [2]int{chunks[2].Start, chunks[2].End})
}

func TestProcessIsIdempotent(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	doc := h.ingestPDF(t, c.ID, "report.pdf", annualReport)
	before := vectorCount(t, h, c.ID)

	require.NoError(t, h.ingestion.Process(context.Background(), doc.ID))

	assert.Equal(t, before, vectorCount(t, h, c.ID))
	assert.Equal(t, 1, h.parser.calls)
	company, err := h.store.GetCompany(context.Background(), c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, company.DocumentCount)
}

func TestProcessParseFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()

	doc, err := h.ingestion.SubmitURL(ctx, c.ID, "https://acme.example/missing")
	require.NoError(t, err)

	err = h.ingestion.Process(ctx, doc.ID)
	var failed *models.IngestFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, models.StageParse, failed.Stage)
	var perr *models.ParseError
	assert.ErrorAs(t, err, &perr)

	got, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.StageParse, got.FailedStage)
	assert.NotEmpty(t, got.ErrorMessage)
}

func TestProcessIndexFailureRemovesPartialVectors(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()

	deps := h.ingestion.IngestionDeps
	deps.Index = upsertFailingIndex{Index: h.index}
	ingestion := NewIngestionService(deps, h.ingestion.cfg)

	doc, err := ingestion.SubmitPDF(ctx, c.ID, "report.pdf", []byte(pdfPrefix+annualReport))
	require.NoError(t, err)
	err = ingestion.Process(ctx, doc.ID)
	var failed *models.IngestFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, models.StageIndex, failed.Stage)

	// staged vectors are gone too, not just hidden
	require.NoError(t, h.index.Publish(ctx, vectorindex.NamespaceFor(c), doc.ID))
	assert.Zero(t, vectorCount(t, h, c.ID))
	chunks, err := h.store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	got, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	company, err := h.store.GetCompany(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, company.DocumentCount)
}

func TestProcessFailsWhenCompanyIsDeleting(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()
	doc, err := h.ingestion.SubmitPDF(ctx, c.ID, "report.pdf", []byte(pdfPrefix+annualReport))
	require.NoError(t, err)
	_, err = h.store.SetCompanyStatus(ctx, c.ID, []string{models.CompanyActive}, models.CompanyDeleting)
	require.NoError(t, err)

	err = h.ingestion.Process(ctx, doc.ID)
	assert.ErrorIs(t, err, models.ErrCompanyDeleting)
	got, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestProcessDefersWhileReindexing(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()
	doc, err := h.ingestion.SubmitPDF(ctx, c.ID, "report.pdf", []byte(pdfPrefix+annualReport))
	require.NoError(t, err)
	_, err = h.store.SetCompanyStatus(ctx, c.ID, []string{models.CompanyActive}, models.CompanyReindexing)
	require.NoError(t, err)

	err = h.ingestion.Process(ctx, doc.ID)
	assert.True(t, models.IsTransient(err))
	got, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestResubmitRetiresPreviousVersion(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()
	first := h.ingestPDF(t, c.ID, "report.pdf", annualReport)

	next, err := h.ingestion.Resubmit(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, first.ID, next.PreviousID)
	require.NoError(t, h.ingestion.Process(ctx, next.ID))

	_, err = h.store.GetDocument(ctx, first.ID)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	chunks, err := h.store.ListChunks(ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, len(chunks), vectorCount(t, h, c.ID))

	company, err := h.store.GetCompany(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, company.DocumentCount)
}

func TestResubmitRejectsInFlightDocument(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	doc, err := h.ingestion.SubmitPDF(context.Background(), c.ID, "report.pdf", []byte(pdfPrefix+annualReport))
	require.NoError(t, err)

	_, err = h.ingestion.Resubmit(context.Background(), doc.ID)
	assert.ErrorIs(t, err, models.ErrDocumentInFlight)
}

func TestDeleteCompletedDocument(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()
	doc := h.ingestPDF(t, c.ID, "report.pdf", annualReport)

	require.NoError(t, h.ingestion.DeleteDocument(ctx, doc.ID))

	_, err := h.store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
	assert.Zero(t, vectorCount(t, h, c.ID))
	_, err = h.files.Read(doc.StoragePath)
	assert.Error(t, err)
	company, err := h.store.GetCompany(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, company.DocumentCount)
}

func TestDeletePendingDocumentCancelsJob(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()
	doc, err := h.ingestion.SubmitPDF(ctx, c.ID, "report.pdf", []byte(pdfPrefix+annualReport))
	require.NoError(t, err)

	require.NoError(t, h.ingestion.DeleteDocument(ctx, doc.ID))
	assert.Equal(t, []string{doc.ID}, h.dispatcher.cancelled)
	_, err = h.store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	// a job that still runs finds nothing to do
	assert.NoError(t, h.ingestion.Process(ctx, doc.ID))
	assert.Zero(t, h.parser.calls)
}

func TestDeleteProcessingDocumentIsRejected(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()
	doc, err := h.ingestion.SubmitPDF(ctx, c.ID, "report.pdf", []byte(pdfPrefix+annualReport))
	require.NoError(t, err)
	_, err = h.store.TransitionDocument(ctx, doc.ID, []string{models.StatusPending}, models.StatusProcessing, store.DocumentPatch{})
	require.NoError(t, err)

	assert.ErrorIs(t, h.ingestion.DeleteDocument(ctx, doc.ID), models.ErrDocumentInFlight)
}

func TestCompaniesAreIsolated(t *testing.T) {
	h := newHarness(t)
	acme := h.company(t, "Acme")
	globex := h.company(t, "Globex")
	texts := map[string]string{
		acme.ID:   annualReport,
		globex.ID: "Globex revenue fell sharply as expenses doubled. Risks include litigation.",
	}
	queries := map[string]string{
		acme.ID:   "revenue grew twelve percent",
		globex.ID: "revenue fell sharply",
	}
	// seed both so queries never hit an empty knowledge base
	h.ingestPDF(t, acme.ID, "seed.pdf", texts[acme.ID])
	h.ingestPDF(t, globex.ID, "seed.pdf", texts[globex.ID])

	ctx := context.Background()
	const docs = 4
	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for _, c := range []*models.Company{acme, globex} {
		for i := 0; i < docs; i++ {
			wg.Add(1)
			go func(companyID string, i int) {
				defer wg.Done()
				doc, err := h.ingestion.SubmitPDF(ctx, companyID, fmt.Sprintf("report-%d.pdf", i), []byte(pdfPrefix+texts[companyID]))
				if err != nil {
					errs <- err
					return
				}
				if err := h.ingestion.Process(ctx, doc.ID); err != nil {
					errs <- err
				}
			}(c.ID, i)
		}
		for i := 0; i < 2*docs; i++ {
			wg.Add(1)
			go func(companyID string) {
				defer wg.Done()
				chunks, _, err := h.retriever.Retrieve(ctx, companyID, queries[companyID], 20)
				if err != nil {
					errs <- err
					return
				}
				for _, ch := range chunks {
					if ch.CompanyID != companyID {
						errs <- fmt.Errorf("query for %s returned chunk %s of %s", companyID, ch.ChunkID, ch.CompanyID)
					}
				}
			}(c.ID)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	for _, c := range []*models.Company{acme, globex} {
		company, err := h.store.GetCompany(ctx, c.ID)
		require.NoError(t, err)
		assert.EqualValues(t, docs+1, company.DocumentCount)
		chunks, _, err := h.retriever.Retrieve(ctx, c.ID, queries[c.ID], 20)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		for _, ch := range chunks {
			assert.Equal(t, c.ID, ch.CompanyID)
		}
	}
}
