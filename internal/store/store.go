// Package store persists companies, documents, chunks, tables, history and
// settings. Every lookup is keyed; nothing scans another company's records.
package store

import (
	"context"
	"time"

	"financerag/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// DocumentPatch lists the fields a status transition may set.
type DocumentPatch struct {
	FailedStage  models.Stage
	ErrorMessage string
	Result       *models.DocumentResult
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

type Companies interface {
	CreateCompany(ctx context.Context, c *models.Company) error
	GetCompany(ctx context.Context, id string) (*models.Company, error)
	ListCompanies(ctx context.Context) ([]models.Company, error)
	// SetCompanyStatus moves the company from one of from to to.
	SetCompanyStatus(ctx context.Context, id string, from []string, to string) (*models.Company, error)
	IncrementCounters(ctx context.Context, id string, delta models.CounterDelta, touch bool) error
	ResetCounters(ctx context.Context, id string) error
	// SwitchIndex points the company at a new index generation built with
	// model and returns it to active.
	SwitchIndex(ctx context.Context, id, model string, generation int) error
	DeleteCompany(ctx context.Context, id string) error
}

type Documents interface {
	CreateDocument(ctx context.Context, d *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, f models.DocumentFilter) ([]models.Document, int64, error)
	// TransitionDocument applies patch and moves the document to status to,
	// failing with ErrStatusConflict unless its status is one of from.
	TransitionDocument(ctx context.Context, id string, from []string, to string, patch DocumentPatch) (*models.Document, error)
	FindInFlight(ctx context.Context, companyID string, kind models.SourceKind, origin string) (*models.Document, error)
	CountDocumentsByStatus(ctx context.Context, companyID string) (map[models.SourceKind]map[string]int64, error)
	ListStale(ctx context.Context, status string, updatedBefore time.Time) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	DeleteCompanyDocuments(ctx context.Context, companyID string) (int64, error)
}

type Chunks interface {
	// SaveChunks upserts by chunk id.
	SaveChunks(ctx context.Context, chunks []models.Chunk) error
	ListChunks(ctx context.Context, documentID string) ([]models.Chunk, error)
	DeleteDocumentChunks(ctx context.Context, documentID string) error
	DeleteCompanyChunks(ctx context.Context, companyID string) error
}

type Tables interface {
	// SaveTables replaces the document's tables.
	SaveTables(ctx context.Context, documentID string, tables []models.Table) error
	ListTables(ctx context.Context, documentID string) ([]models.Table, error)
	ListTablesFor(ctx context.Context, companyID string, documentIDs []string) ([]models.Table, error)
	DeleteDocumentTables(ctx context.Context, documentID string) error
	DeleteCompanyTables(ctx context.Context, companyID string) error
}

type History interface {
	InsertHistory(ctx context.Context, item *models.HistoryItem) error
	GetHistory(ctx context.Context, id string) (*models.HistoryItem, error)
	DeleteHistory(ctx context.Context, id string) error
	SearchHistory(ctx context.Context, f models.HistoryFilter) ([]models.HistoryItem, int64, error)
	HistoryStats(ctx context.Context, companyID string) (*models.HistoryStats, error)
	DeleteCompanyHistory(ctx context.Context, companyID string) error
}

type Settings interface {
	// GetSettings returns nil when nothing has been saved yet.
	GetSettings(ctx context.Context) (*models.Settings, error)
	// SaveSettings stores s if the stored revision still equals
	// expectedRevision, and bumps the revision.
	SaveSettings(ctx context.Context, s *models.Settings, expectedRevision int64) error
}

// Store is the full system of record.
type Store interface {
	Companies
	Documents
	Chunks
	Tables
	History
	Settings
	Ping(ctx context.Context) error
}

// pageWindow turns a 1-based page and a limit into skip and limit values.
// A negative limit means no limit.
func pageWindow(page, limit int) (int64, int64) {
	if limit < 0 {
		return 0, 0
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if page < 1 {
		page = 1
	}
	return int64((page - 1) * limit), int64(limit)
}

func containsStatus(statuses []string, s string) bool {
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}

func applyPatch(d *models.Document, to string, p DocumentPatch, now time.Time) {
	d.Status = to
	d.UpdatedAt = now
	d.FailedStage = p.FailedStage
	d.ErrorMessage = p.ErrorMessage
	if p.StartedAt != nil {
		d.StartedAt = p.StartedAt
	}
	if p.CompletedAt != nil {
		d.CompletedAt = p.CompletedAt
	}
	if r := p.Result; r != nil {
		if r.Title != "" {
			d.Title = r.Title
		}
		if r.Hostname != "" {
			d.Hostname = r.Hostname
		}
		d.PageCount = r.PageCount
		d.WordCount = r.WordCount
		d.TableCount = r.TableCount
		d.ChunkCount = r.ChunkCount
		d.PublishDate = r.PublishDate
		d.EmbeddingModel = r.EmbeddingModel
	}
}
