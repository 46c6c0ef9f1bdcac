package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"financerag/internal/chunker"
	"financerag/models"

	"github.com/philippgille/chromem-go"
)

const (
	metaDocumentID = "document_id"
	metaCompanyID  = "company_id"
	metaKind       = "kind"
	metaOrigin     = "origin"
	metaIndex      = "chunk_index"
	metaStart      = "start"
	metaEnd        = "end"
	metaIngestedAt = "ingested_at"
)

var errNoEmbedding = errors.New("chromem: records must carry their own embedding")

func rejectEmbed(context.Context, string) ([]float32, error) { return nil, errNoEmbedding }

// Chromem is an embedded, optionally persistent index with one collection per
// namespace. Staged records are held in memory and copied into the collection
// on Publish, under the namespace write lock queries wait on.
type Chromem struct {
	db *chromem.DB

	mu     sync.Mutex
	locks  map[string]*sync.RWMutex
	dims   map[string]int
	staged map[string]map[string]map[string]Record // namespace → document → chunk
}

// NewChromem opens a persistent database under path, or an in-memory one when
// path is empty.
func NewChromem(path string, compress bool) (*Chromem, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %s: %w", path, err)
		}
	}
	return &Chromem{
		db:     db,
		locks:  make(map[string]*sync.RWMutex),
		dims:   make(map[string]int),
		staged: make(map[string]map[string]map[string]Record),
	}, nil
}

func (c *Chromem) Backend() string { return "chromem" }

func (c *Chromem) Ping(context.Context) error { return nil }

func (c *Chromem) lock(ns Namespace) *sync.RWMutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[ns.name]
	if !ok {
		l = &sync.RWMutex{}
		c.locks[ns.name] = l
	}
	return l
}

func (c *Chromem) collection(ns Namespace) *chromem.Collection {
	return c.db.GetCollection(ns.name, rejectEmbed)
}

func (c *Chromem) dim(ns Namespace) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dims[ns.name]
}

func (c *Chromem) setDim(ns Namespace, dim int) {
	if dim <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dims[ns.name] = dim
}

func (c *Chromem) EnsureNamespace(_ context.Context, ns Namespace, dim int) error {
	l := c.lock(ns)
	l.Lock()
	defer l.Unlock()

	if col := c.collection(ns); col != nil {
		if have := c.dim(ns); have != 0 && dim != 0 && have != dim {
			return fmt.Errorf("namespace %s has dimension %d, want %d", ns.name, have, dim)
		}
		c.setDim(ns, dim)
		return nil
	}
	meta := map[string]string{metaCompanyID: ns.companyID}
	if _, err := c.db.CreateCollection(ns.name, meta, rejectEmbed); err != nil {
		return fmt.Errorf("create collection %s: %w", ns.name, err)
	}
	c.setDim(ns, dim)
	return nil
}

func (c *Chromem) Upsert(ctx context.Context, ns Namespace, records []Record) error {
	if err := validateRecords(ns, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := c.EnsureNamespace(ctx, ns, len(records[0].Vector)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	docs, ok := c.staged[ns.name]
	if !ok {
		docs = make(map[string]map[string]Record)
		c.staged[ns.name] = docs
	}
	for _, r := range records {
		chunks, ok := docs[r.DocumentID]
		if !ok {
			chunks = make(map[string]Record)
			docs[r.DocumentID] = chunks
		}
		r.Vector = append([]float32(nil), r.Vector...)
		chunks[r.ChunkID] = r
	}
	return nil
}

// takeStaged removes and returns the staged records of a document.
func (c *Chromem) takeStaged(ns Namespace, documentID string) map[string]Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	docs := c.staged[ns.name]
	chunks := docs[documentID]
	delete(docs, documentID)
	return chunks
}

func (c *Chromem) Publish(ctx context.Context, ns Namespace, documentID string) error {
	l := c.lock(ns)
	l.Lock()
	defer l.Unlock()

	staged := c.takeStaged(ns, documentID)
	if len(staged) == 0 {
		return nil
	}
	col := c.collection(ns)
	if col == nil {
		return fmt.Errorf("chromem publish %s: namespace %s does not exist", documentID, ns.name)
	}
	if err := col.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil); err != nil {
		return fmt.Errorf("chromem replace %s in %s: %w", documentID, ns.name, err)
	}

	ids := make([]string, 0, len(staged))
	vecs := make([][]float32, 0, len(staged))
	metas := make([]map[string]string, 0, len(staged))
	texts := make([]string, 0, len(staged))
	for _, r := range staged {
		ids = append(ids, r.ChunkID)
		vecs = append(vecs, r.Vector)
		texts = append(texts, r.Text)
		metas = append(metas, map[string]string{
			metaDocumentID: r.DocumentID,
			metaCompanyID:  r.CompanyID,
			metaKind:       string(r.Kind),
			metaOrigin:     r.Origin,
			metaIndex:      strconv.Itoa(r.Index),
			metaStart:      strconv.Itoa(r.Start),
			metaEnd:        strconv.Itoa(r.End),
			metaIngestedAt: r.IngestedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	if err := col.Add(ctx, ids, vecs, metas, texts); err != nil {
		return fmt.Errorf("chromem publish into %s: %w", ns.name, err)
	}
	return nil
}

func (c *Chromem) Query(ctx context.Context, ns Namespace, vector []float32, k int) ([]Hit, error) {
	l := c.lock(ns)
	l.RLock()
	defer l.RUnlock()

	col := c.collection(ns)
	if col == nil || k <= 0 {
		return nil, nil
	}
	total := col.Count()
	if total == 0 {
		return nil, nil
	}
	// fetch extra candidates so ties are broken by Rank, not by chromem
	n := min(total, max(4*k, 50))
	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query %s: %w", ns.name, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, Hit{Record: recordFromResult(res), Score: float64(res.Similarity)})
	}
	hits = Rank(hits, k)
	if err := CheckIsolation(c.Backend(), ns, hits); err != nil {
		return nil, err
	}
	return hits, nil
}

func recordFromResult(res chromem.Result) Record {
	m := res.Metadata
	idx, _ := strconv.Atoi(m[metaIndex])
	start, _ := strconv.Atoi(m[metaStart])
	end, _ := strconv.Atoi(m[metaEnd])
	at, _ := time.Parse(time.RFC3339Nano, m[metaIngestedAt])
	return Record{
		ChunkID:    res.ID,
		DocumentID: m[metaDocumentID],
		CompanyID:  m[metaCompanyID],
		Kind:       models.SourceKind(m[metaKind]),
		Origin:     m[metaOrigin],
		Index:      idx,
		Start:      start,
		End:        end,
		Text:       res.Content,
		Vector:     res.Embedding,
		IngestedAt: at,
	}
}

func (c *Chromem) DeleteDocument(ctx context.Context, ns Namespace, documentID string) error {
	l := c.lock(ns)
	l.Lock()
	defer l.Unlock()
	c.takeStaged(ns, documentID)

	col := c.collection(ns)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil); err != nil {
		return fmt.Errorf("chromem delete %s from %s: %w", documentID, ns.name, err)
	}
	return nil
}

func (c *Chromem) DropNamespace(_ context.Context, ns Namespace) error {
	l := c.lock(ns)
	l.Lock()
	defer l.Unlock()

	c.mu.Lock()
	delete(c.staged, ns.name)
	delete(c.dims, ns.name)
	c.mu.Unlock()
	if c.collection(ns) == nil {
		return nil
	}
	if err := c.db.DeleteCollection(ns.name); err != nil {
		return fmt.Errorf("chromem drop %s: %w", ns.name, err)
	}
	return nil
}

func (c *Chromem) Count(_ context.Context, ns Namespace) (int, error) {
	l := c.lock(ns)
	l.RLock()
	defer l.RUnlock()

	col := c.collection(ns)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

func (c *Chromem) CountDocument(ctx context.Context, ns Namespace, documentID string) (int, error) {
	l := c.lock(ns)
	l.RLock()
	defer l.RUnlock()

	col := c.collection(ns)
	if col == nil {
		return 0, nil
	}
	total := col.Count()
	if total == 0 {
		return 0, nil
	}
	dim := c.dim(ns)
	if dim == 0 {
		// reopened database: learn the dimension from the document's first chunk
		first, err := col.GetByID(ctx, chunker.ChunkID(documentID, 0))
		if err != nil {
			return 0, nil
		}
		dim = len(first.Embedding)
		c.setDim(ns, dim)
	}
	unit := make([]float32, dim)
	unit[0] = 1
	results, err := col.QueryEmbedding(ctx, unit, total, map[string]string{metaDocumentID: documentID}, nil)
	if err != nil {
		return 0, fmt.Errorf("chromem count %s in %s: %w", documentID, ns.name, err)
	}
	return len(results), nil
}
