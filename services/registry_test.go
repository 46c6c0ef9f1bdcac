package services

import (
	"context"
	"testing"
	"time"

	"financerag/internal/vectorindex"
	"financerag/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCompany(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.registry.CreateCompany(ctx, CompanyInput{Name: "  Acme Holdings, Inc. ", Website: "https://acme.example"})
	require.NoError(t, err)
	assert.Equal(t, "Acme Holdings, Inc.", c.Name)
	assert.Equal(t, "acme-holdings-inc", c.Slug)
	assert.Equal(t, models.NamespaceName(c.ID), c.Namespace)
	assert.Equal(t, models.CompanyActive, c.Status)
	assert.Equal(t, "hash:test-v1", c.EmbeddingModel)

	_, err = h.registry.CreateCompany(ctx, CompanyInput{Name: " "})
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = h.registry.CreateCompany(ctx, CompanyInput{Name: "Globex", Website: "not a url"})
	assert.ErrorAs(t, err, &verr)

	list, err := h.registry.ListCompanies(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCompanyStats(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()
	doc := h.ingestPDF(t, c.ID, "report.pdf", annualReport)
	_, err := h.ingestion.SubmitURL(ctx, c.ID, "https://acme.example/ir")
	require.NoError(t, err)

	stats, err := h.registry.Stats(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.DocumentsByStatus[models.StatusCompleted])
	assert.EqualValues(t, 1, stats.URLsByStatus[models.StatusPending])
	assert.Equal(t, doc.ChunkCount, stats.IndexedVectors)
	assert.EqualValues(t, 1, stats.Company.DocumentCount)

	_, err = h.registry.Stats(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrCompanyNotFound)
}

func TestRegistryOverview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acme := h.company(t, "Acme")
	globex := h.company(t, "Globex")
	a := h.ingestPDF(t, acme.ID, "report.pdf", annualReport)
	g := h.ingestPDF(t, globex.ID, "report.pdf", "Globex revenue fell sharply as expenses doubled.")
	_, err := h.ingestion.SubmitURL(ctx, globex.ID, "https://globex.example/ir")
	require.NoError(t, err)
	_, err = h.questions.Ask(ctx, acme.ID, AskRequest{Question: "How much did revenue grow?"})
	require.NoError(t, err)

	stats, err := h.registry.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Companies)
	assert.EqualValues(t, 2, stats.CompaniesByStatus[models.CompanyActive])
	assert.EqualValues(t, 2, stats.Documents)
	assert.EqualValues(t, 1, stats.Questions)
	assert.EqualValues(t, 2, stats.DocumentsByStatus[models.StatusCompleted])
	assert.EqualValues(t, 1, stats.URLsByStatus[models.StatusPending])
	assert.Equal(t, a.ChunkCount+g.ChunkCount, stats.IndexedVectors)
}

func TestDeleteCompanyRemovesEverything(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	other := h.company(t, "Globex")
	ctx := context.Background()
	doc := h.ingestPDF(t, c.ID, "report.pdf", annualReport)
	h.ingestPDF(t, other.ID, "globex.pdf", "Globex revenue fell.")
	_, err := h.questions.Ask(ctx, c.ID, AskRequest{Question: "What was revenue?"})
	require.NoError(t, err)

	require.NoError(t, h.registry.DeleteCompany(ctx, c.ID))

	_, err = h.store.GetCompany(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrCompanyNotFound)
	_, err = h.store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
	n, err := h.index.Count(ctx, vectorindex.NamespaceFor(c))
	require.NoError(t, err)
	assert.Zero(t, n)
	items, total, err := h.history.Search(ctx, models.HistoryFilter{CompanyID: c.ID})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, total)

	// the other company is untouched
	assert.Positive(t, vectorCount(t, h, other.ID))

	_, err = h.questions.Ask(ctx, c.ID, AskRequest{Question: "What was revenue?"})
	assert.ErrorIs(t, err, models.ErrCompanyNotFound)
}

func TestDeleteCompanyCancelsRunningIngestion(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()
	h.parser.block = make(chan struct{})

	doc, err := h.ingestion.SubmitPDF(ctx, c.ID, "report.pdf", []byte(pdfPrefix+annualReport))
	require.NoError(t, err)
	processed := make(chan error, 1)
	go func() { processed <- h.ingestion.Process(ctx, doc.ID) }()

	require.Eventually(t, func() bool { return h.fence.Active(c.ID) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.registry.DeleteCompany(ctx, c.ID))

	select {
	case err := <-processed:
		var failed *models.IngestFailedError
		assert.ErrorAs(t, err, &failed)
	case <-time.After(2 * time.Second):
		t.Fatal("ingestion did not stop")
	}
	assert.Contains(t, h.dispatcher.cancelled, doc.ID)
	n, err := h.index.Count(ctx, vectorindex.NamespaceFor(c))
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = h.store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
	assert.Zero(t, h.fence.Active(c.ID))
}

func TestClearKnowledgeBaseKeepsCompanyAndHistory(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()
	h.ingestPDF(t, c.ID, "report.pdf", annualReport)
	_, err := h.questions.Ask(ctx, c.ID, AskRequest{Question: "What was revenue?"})
	require.NoError(t, err)

	require.NoError(t, h.registry.ClearKnowledgeBase(ctx, c.ID))

	company, err := h.store.GetCompany(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompanyActive, company.Status)
	assert.Zero(t, company.DocumentCount)
	assert.EqualValues(t, 1, company.QuestionCount)
	assert.Zero(t, vectorCount(t, h, c.ID))

	_, total, err := h.history.Search(ctx, models.HistoryFilter{CompanyID: c.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, err = h.questions.Ask(ctx, c.ID, AskRequest{Question: "What was revenue?"})
	assert.ErrorIs(t, err, models.ErrEmptyKnowledgeBase)

	// the company accepts documents again
	h.ingestPDF(t, c.ID, "report.pdf", annualReport)
}

func TestReembedSwitchesGeneration(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()
	doc := h.ingestPDF(t, c.ID, "report.pdf", annualReport)
	before, _, err := h.retriever.Retrieve(ctx, c.ID, "revenue grew twelve percent", 3)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	require.NoError(t, h.registry.Reembed(ctx, c.ID, "hash:test-v2"))

	company, err := h.store.GetCompany(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, company.IndexGeneration)
	assert.Equal(t, "hash:test-v2", company.EmbeddingModel)
	assert.Equal(t, models.CompanyActive, company.Status)

	old, err := h.index.Count(ctx, vectorindex.NamespaceAt(company, 0))
	require.NoError(t, err)
	assert.Zero(t, old)
	assert.Equal(t, doc.ChunkCount, vectorCount(t, h, c.ID))

	after, _, err := h.retriever.Retrieve(ctx, c.ID, "revenue grew twelve percent", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, after)

	// chunk text is reused, not re-parsed
	assert.Equal(t, 1, h.parser.calls)
}

func TestReembedRejectsDeletingCompany(t *testing.T) {
	h := newHarness(t)
	c := h.company(t, "Acme")
	ctx := context.Background()
	_, err := h.store.SetCompanyStatus(ctx, c.ID, []string{models.CompanyActive}, models.CompanyDeleting)
	require.NoError(t, err)

	assert.ErrorIs(t, h.registry.Reembed(ctx, c.ID, "hash:test-v2"), models.ErrCompanyDeleting)
}

func TestReembedAllSkipsUpToDateCompanies(t *testing.T) {
	h := newHarness(t)
	acme := h.company(t, "Acme")
	globex := h.company(t, "Globex")
	ctx := context.Background()
	require.NoError(t, h.registry.Reembed(ctx, globex.ID, "hash:test-v2"))

	n, err := h.registry.ReembedAll(ctx, "hash:test-v2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{acme.ID + "=hash:test-v2"}, h.dispatcher.reembeds)
}
