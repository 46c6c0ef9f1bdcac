package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"financerag/internal/ai"
	"financerag/internal/parser"
	"financerag/internal/retry"
	"financerag/internal/store"
	"financerag/internal/vectorindex"
	"financerag/models"

	"github.com/stretchr/testify/require"
)

const pdfPrefix = "%PDF-1.4\n"

// fakeParser returns the bytes after the PDF header as text, and looks URLs
// up in pages.
type fakeParser struct {
	mu     sync.Mutex
	pages  map[string]string
	tables []models.Table
	block  chan struct{}
	calls  int
}

func (p *fakeParser) Parse(ctx context.Context, raw []byte, kind models.SourceKind) (*parser.Parsed, error) {
	p.mu.Lock()
	p.calls++
	block := p.block
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var text string
	switch kind {
	case models.SourcePDF:
		text = strings.TrimPrefix(string(raw), pdfPrefix)
	case models.SourceURL:
		p.mu.Lock()
		page, ok := p.pages[string(raw)]
		p.mu.Unlock()
		if !ok {
			return nil, &models.ParseError{Kind: kind, Origin: string(raw), Reason: "status 404"}
		}
		text = page
	}
	if strings.TrimSpace(text) == "" {
		return nil, &models.ParseError{Kind: kind, Reason: "empty content"}
	}
	return &parser.Parsed{
		Text:      text,
		Tables:    append([]models.Table(nil), p.tables...),
		PageCount: 1,
		WordCount: len(strings.Fields(text)),
	}, nil
}

type recordingDispatcher struct {
	mu        sync.Mutex
	ingests   []string
	reembeds  []string
	cancelled []string
	err       error
}

func (d *recordingDispatcher) DispatchIngest(_ context.Context, doc *models.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ingests = append(d.ingests, doc.ID)
	return nil
}

func (d *recordingDispatcher) DispatchReembed(_ context.Context, companyID, model string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reembeds = append(d.reembeds, companyID+"="+model)
	return nil
}

func (d *recordingDispatcher) CancelIngest(_ context.Context, documentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = append(d.cancelled, documentID)
	return nil
}

type fakeCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
	last  ai.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req ai.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	return f.reply, f.err
}

func (f *fakeCompleter) set(reply string, err error) {
	f.mu.Lock()
	f.reply, f.err = reply, err
	f.mu.Unlock()
}

var errLLMDown = errors.New("llm down")

type harness struct {
	store      *store.Memory
	index      *vectorindex.Memory
	parser     *fakeParser
	dispatcher *recordingDispatcher
	llm        *fakeCompleter
	files      *FileStore
	fence      *CompanyFence
	settings   *SettingsService
	ingestion  *IngestionService
	registry   *RegistryService
	retriever  *Retriever
	history    *HistoryService
	questions  *QuestionService
	cache      *MemoryRetryCache
}

func testDefaults() models.Settings {
	return models.Settings{
		EmbeddingProvider: ai.ProviderHash,
		EmbeddingModel:    "test-v1",
		LLMProvider:       ai.ProviderGoogle,
		LLMModel:          "gemini-test",
		ChunkSize:         60,
		ChunkOverlap:      10,
		MaxResults:        5,
		MinScore:          0,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:      store.NewMemory(),
		index:      vectorindex.NewMemory(),
		parser:     &fakeParser{pages: map[string]string{}},
		dispatcher: &recordingDispatcher{},
		llm:        &fakeCompleter{reply: "Revenue grew strongly [1]."},
		fence:      NewCompanyFence(),
		cache:      NewMemoryRetryCache(time.Minute),
	}
	files, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	h.files = files

	h.settings = NewSettingsService(h.store, testDefaults(), 20)
	embedder := ai.NewBatcher(ai.NewProviders(ai.Credentials{HashDimension: 128}), 4, 2, retry.Policy{MaxAttempts: 1}, nil)

	h.ingestion = NewIngestionService(IngestionDeps{
		Store:      h.store,
		Index:      h.index,
		Parser:     h.parser,
		Embedder:   embedder,
		Dispatcher: h.dispatcher,
		Settings:   h.settings,
		Files:      files,
		Fence:      h.fence,
	}, IngestionConfig{MaxFileSize: 1 << 20, Timeout: 10 * time.Second})

	h.registry = NewRegistryService(RegistryDeps{
		Store:      h.store,
		Index:      h.index,
		Embedder:   embedder,
		Dispatcher: h.dispatcher,
		Settings:   h.settings,
		Files:      files,
		Fence:      h.fence,
	}, 2*time.Second)
	h.registry.pollInterval = 10 * time.Millisecond
	h.settings.SetReembedScheduler(h.registry)

	h.retriever = NewRetriever(h.store, h.index, embedder, h.settings)
	synth := NewSynthesizer(h.llm, h.settings, SynthesizerConfig{})
	h.history = NewHistoryService(h.store, nil)
	h.questions = NewQuestionService(h.store, h.retriever, synth, h.history, h.cache, nil)
	return h
}

func (h *harness) company(t *testing.T, name string) *models.Company {
	t.Helper()
	c, err := h.registry.CreateCompany(context.Background(), CompanyInput{Name: name})
	require.NoError(t, err)
	return c
}

// ingestPDF submits text as a PDF and processes it synchronously.
func (h *harness) ingestPDF(t *testing.T, companyID, name, text string) *models.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := h.ingestion.SubmitPDF(ctx, companyID, name, []byte(pdfPrefix+text))
	require.NoError(t, err)
	require.NoError(t, h.ingestion.Process(ctx, doc.ID))
	done, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, done.Status, done.ErrorMessage)
	return done
}
