package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"financerag/models"
)

// Memory is a process-local Store for tests and single-node development.
// Values are copied on the way in and out.
type Memory struct {
	mu        sync.RWMutex
	companies map[string]*models.Company
	documents map[string]*models.Document
	chunks    map[string]*models.Chunk
	tables    map[string][]models.Table
	history   map[string]*models.HistoryItem
	settings  *models.Settings
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		companies: make(map[string]*models.Company),
		documents: make(map[string]*models.Document),
		chunks:    make(map[string]*models.Chunk),
		tables:    make(map[string][]models.Table),
		history:   make(map[string]*models.HistoryItem),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

// Companies

func (m *Memory) CreateCompany(_ context.Context, c *models.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.companies {
		if strings.EqualFold(existing.Name, c.Name) {
			return models.ErrDuplicateCompany
		}
	}
	if _, ok := m.companies[c.ID]; ok {
		return models.ErrDuplicateCompany
	}
	cp := *c
	m.companies[c.ID] = &cp
	return nil
}

func (m *Memory) GetCompany(_ context.Context, id string) (*models.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.companies[id]
	if !ok {
		return nil, models.ErrCompanyNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListCompanies(context.Context) ([]models.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Company, 0, len(m.companies))
	for _, c := range m.companies {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) SetCompanyStatus(_ context.Context, id string, from []string, to string) (*models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok {
		return nil, models.ErrCompanyNotFound
	}
	if !containsStatus(from, c.Status) {
		return nil, models.ErrStatusConflict
	}
	c.Status = to
	c.UpdatedAt = m.now()
	cp := *c
	return &cp, nil
}

func (m *Memory) IncrementCounters(_ context.Context, id string, delta models.CounterDelta, touch bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok {
		return models.ErrCompanyNotFound
	}
	c.DocumentCount += delta.Documents
	c.URLCount += delta.URLs
	c.QuestionCount += delta.Questions
	now := m.now()
	c.UpdatedAt = now
	if touch {
		c.LastUpdatedAt = &now
	}
	return nil
}

func (m *Memory) ResetCounters(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok {
		return models.ErrCompanyNotFound
	}
	c.DocumentCount, c.URLCount = 0, 0
	now := m.now()
	c.UpdatedAt = now
	c.LastUpdatedAt = &now
	return nil
}

func (m *Memory) SwitchIndex(_ context.Context, id, model string, generation int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok {
		return models.ErrCompanyNotFound
	}
	if c.Status == models.CompanyDeleting {
		return models.ErrCompanyDeleting
	}
	c.EmbeddingModel = model
	c.IndexGeneration = generation
	c.Status = models.CompanyActive
	c.UpdatedAt = m.now()
	return nil
}

func (m *Memory) DeleteCompany(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.companies[id]; !ok {
		return models.ErrCompanyNotFound
	}
	delete(m.companies, id)
	return nil
}

// Documents

func (m *Memory) CreateDocument(_ context.Context, d *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.documents[d.ID] = &cp
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	if !ok {
		return nil, models.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) ListDocuments(_ context.Context, f models.DocumentFilter) ([]models.Document, int64, error) {
	m.mu.RLock()
	var matched []models.Document
	for _, d := range m.documents {
		if d.CompanyID != f.CompanyID {
			continue
		}
		if f.Kind != "" && d.Kind != f.Kind {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		matched = append(matched, *d)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return paginate(matched, f.Page, f.Limit), int64(len(matched)), nil
}

func paginate[T any](items []T, page, limit int) []T {
	skip, n := pageWindow(page, limit)
	if n == 0 {
		return items
	}
	if skip >= int64(len(items)) {
		return []T{}
	}
	end := min(skip+n, int64(len(items)))
	return items[skip:end]
}

func (m *Memory) TransitionDocument(_ context.Context, id string, from []string, to string, patch DocumentPatch) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return nil, models.ErrDocumentNotFound
	}
	if !containsStatus(from, d.Status) {
		return nil, models.ErrStatusConflict
	}
	applyPatch(d, to, patch, m.now())
	cp := *d
	return &cp, nil
}

func (m *Memory) FindInFlight(_ context.Context, companyID string, kind models.SourceKind, origin string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.documents {
		if d.CompanyID == companyID && d.Kind == kind && d.Origin == origin && d.InFlight() {
			cp := *d
			return &cp, nil
		}
	}
	return nil, models.ErrDocumentNotFound
}

func (m *Memory) CountDocumentsByStatus(_ context.Context, companyID string) (map[models.SourceKind]map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[models.SourceKind]map[string]int64{
		models.SourcePDF: {},
		models.SourceURL: {},
	}
	for _, d := range m.documents {
		if d.CompanyID == companyID {
			out[d.Kind][d.Status]++
		}
	}
	return out, nil
}

func (m *Memory) ListStale(_ context.Context, status string, updatedBefore time.Time) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Document
	for _, d := range m.documents {
		if d.Status == status && d.UpdatedAt.Before(updatedBefore) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *Memory) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return models.ErrDocumentNotFound
	}
	delete(m.documents, id)
	return nil
}

func (m *Memory) DeleteCompanyDocuments(_ context.Context, companyID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, d := range m.documents {
		if d.CompanyID == companyID {
			delete(m.documents, id)
			n++
		}
	}
	return n, nil
}

// Chunks

func (m *Memory) SaveChunks(_ context.Context, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		cp := c
		cp.Vector = append([]float32(nil), c.Vector...)
		m.chunks[c.ID] = &cp
	}
	return nil
}

func (m *Memory) ListChunks(_ context.Context, documentID string) ([]models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Chunk
	for _, c := range m.chunks {
		if c.DocumentID == documentID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *Memory) DeleteDocumentChunks(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.chunks {
		if c.DocumentID == documentID {
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *Memory) DeleteCompanyChunks(_ context.Context, companyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.chunks {
		if c.CompanyID == companyID {
			delete(m.chunks, id)
		}
	}
	return nil
}

// Tables

func (m *Memory) SaveTables(_ context.Context, documentID string, tables []models.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(tables) == 0 {
		delete(m.tables, documentID)
		return nil
	}
	m.tables[documentID] = append([]models.Table(nil), tables...)
	return nil
}

func (m *Memory) ListTables(_ context.Context, documentID string) ([]models.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Table(nil), m.tables[documentID]...), nil
}

func (m *Memory) ListTablesFor(_ context.Context, companyID string, documentIDs []string) ([]models.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Table
	for _, id := range documentIDs {
		for _, t := range m.tables[id] {
			if t.CompanyID == companyID {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (m *Memory) DeleteDocumentTables(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, documentID)
	return nil
}

func (m *Memory) DeleteCompanyTables(_ context.Context, companyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ts := range m.tables {
		if len(ts) > 0 && ts[0].CompanyID == companyID {
			delete(m.tables, id)
		}
	}
	return nil
}

// History

func (m *Memory) InsertHistory(_ context.Context, item *models.HistoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.history[item.ID] = &cp
	return nil
}

func (m *Memory) GetHistory(_ context.Context, id string) (*models.HistoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.history[id]
	if !ok {
		return nil, models.ErrHistoryNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *Memory) DeleteHistory(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.history[id]; !ok {
		return models.ErrHistoryNotFound
	}
	delete(m.history, id)
	return nil
}

func (m *Memory) SearchHistory(_ context.Context, f models.HistoryFilter) ([]models.HistoryItem, int64, error) {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	m.mu.RLock()
	var matched []models.HistoryItem
	for _, h := range m.history {
		if f.CompanyID != "" && h.CompanyID != f.CompanyID {
			continue
		}
		if f.Category != "" && h.Category != f.Category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(h.Question), search) &&
			!strings.Contains(strings.ToLower(h.Answer), search) {
			continue
		}
		matched = append(matched, *h)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return paginate(matched, f.Page, f.Limit), int64(len(matched)), nil
}

func (m *Memory) HistoryStats(_ context.Context, companyID string) (*models.HistoryStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &models.HistoryStats{ByCategory: make(map[string]int64)}
	var totalMS int64
	for _, h := range m.history {
		if companyID != "" && h.CompanyID != companyID {
			continue
		}
		stats.Total++
		stats.ByCategory[h.Category]++
		totalMS += h.ResponseTimeMS
		if h.ContextFound {
			stats.WithContext++
		}
	}
	if stats.Total > 0 {
		stats.AvgResponseTimeMS = totalMS / stats.Total
	}
	return stats, nil
}

func (m *Memory) DeleteCompanyHistory(_ context.Context, companyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, h := range m.history {
		if h.CompanyID == companyID {
			delete(m.history, id)
		}
	}
	return nil
}

// Settings

func (m *Memory) GetSettings(context.Context) (*models.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return nil, nil
	}
	cp := *m.settings
	return &cp, nil
}

func (m *Memory) SaveSettings(_ context.Context, s *models.Settings, expectedRevision int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current int64
	if m.settings != nil {
		current = m.settings.Revision
	}
	if current != expectedRevision {
		return models.ErrStatusConflict
	}
	cp := *s
	cp.ID = models.SettingsID
	cp.Revision = expectedRevision + 1
	cp.UpdatedAt = m.now()
	m.settings = &cp
	s.Revision = cp.Revision
	s.UpdatedAt = cp.UpdatedAt
	return nil
}
