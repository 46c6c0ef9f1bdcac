package models

import (
	"time"
)

// History categories
const (
	CategoryRevenue     = "revenue"
	CategoryExpenses    = "expenses"
	CategoryRisks       = "risks"
	CategoryPerformance = "performance"
	CategoryGeneral     = "general"
)

// Categories lists every history category in display order.
var Categories = []string{
	CategoryRevenue,
	CategoryExpenses,
	CategoryRisks,
	CategoryPerformance,
	CategoryGeneral,
}

// ValidCategory reports whether c is a known history category.
func ValidCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// RetrievedChunk is a ranked chunk returned by the retriever.
type RetrievedChunk struct {
	ChunkID    string     `json:"chunk_id"`
	DocumentID string     `json:"document_id"`
	CompanyID  string     `json:"company_id"`
	Kind       SourceKind `json:"kind"`
	Origin     string     `json:"origin"`
	Index      int        `json:"index"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Text       string     `json:"text"`
	Score      float64    `json:"score"`
	IngestedAt time.Time  `json:"ingested_at"`
}

// Query is a question bound to a company.
type Query struct {
	CompanyID   string    `json:"company_id"`
	CompanyName string    `json:"company_name"`
	Question    string    `json:"question"`
	Category    string    `json:"category,omitempty"`
	Model       string    `json:"model,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Source is a citation from an answer back to a document chunk.
type Source struct {
	DocumentID string     `bson:"document_id" json:"document_id"`
	ChunkID    string     `bson:"chunk_id" json:"chunk_id"`
	Kind       SourceKind `bson:"kind" json:"kind"`
	Title      string     `bson:"title" json:"title"`
	Snippet    string     `bson:"snippet" json:"snippet"`
	Origin     string     `bson:"origin" json:"origin"`
	Score      float64    `bson:"score" json:"score"`
}

// Answer is immutable once created.
type Answer struct {
	ID             string    `json:"id"`
	Query          Query     `json:"query"`
	Text           string    `json:"answer"`
	Sources        []Source  `json:"sources"`
	Tables         []Table   `json:"tables"`
	ContextFound   bool      `json:"context_found"`
	Model          string    `json:"model,omitempty"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// HistoryItem is an answer persisted with its category.
type HistoryItem struct {
	ID             string    `bson:"_id" json:"id"`
	CompanyID      string    `bson:"company_id" json:"company_id"`
	CompanyName    string    `bson:"company_name" json:"company_name"`
	Question       string    `bson:"question" json:"question"`
	Answer         string    `bson:"answer" json:"answer"`
	Category       string    `bson:"category" json:"category"`
	Sources        []Source  `bson:"sources" json:"sources"`
	Tables         []Table   `bson:"tables,omitempty" json:"tables,omitempty"`
	SourcesCount   int       `bson:"sources_count" json:"sources_count"`
	ContextFound   bool      `bson:"context_found" json:"context_found"`
	Model          string    `bson:"model,omitempty" json:"model,omitempty"`
	ResponseTimeMS int64     `bson:"response_time_ms" json:"response_time_ms"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

// NewHistoryItem pairs an answer with its category.
func NewHistoryItem(a *Answer, category string) *HistoryItem {
	return &HistoryItem{
		ID:             a.ID,
		CompanyID:      a.Query.CompanyID,
		CompanyName:    a.Query.CompanyName,
		Question:       a.Query.Question,
		Answer:         a.Text,
		Category:       category,
		Sources:        a.Sources,
		Tables:         a.Tables,
		SourcesCount:   len(a.Sources),
		ContextFound:   a.ContextFound,
		Model:          a.Model,
		ResponseTimeMS: a.ResponseTimeMS,
		CreatedAt:      a.CreatedAt,
	}
}

// HistoryFilter selects history items. Empty fields match everything.
type HistoryFilter struct {
	CompanyID string
	Category  string
	Search    string
	Page      int
	Limit     int
}

// HistoryStats summarizes the history log.
type HistoryStats struct {
	Total             int64            `json:"total_queries"`
	ByCategory        map[string]int64 `json:"by_category"`
	AvgResponseTimeMS int64            `json:"avg_response_time_ms"`
	WithContext       int64            `json:"successful_queries"`
}
