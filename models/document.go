package models

import (
	"time"
)

// SourceKind is the kind of raw material a document was ingested from.
type SourceKind string

const (
	SourcePDF SourceKind = "pdf"
	SourceURL SourceKind = "url"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	return k == SourcePDF || k == SourceURL
}

// Document status values
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Chunk status values
const (
	ChunkPending  = "pending"
	ChunkEmbedded = "embedded"
	ChunkFailed   = "failed"
)

// Document is one ingested source. It is immutable once completed;
// re-ingestion creates a new version pointing at the previous one.
type Document struct {
	ID             string     `bson:"_id" json:"id"`
	CompanyID      string     `bson:"company_id" json:"company_id"`
	Kind           SourceKind `bson:"kind" json:"kind"`
	Origin         string     `bson:"origin" json:"origin"`
	Hostname       string     `bson:"hostname,omitempty" json:"hostname,omitempty"`
	Title          string     `bson:"title,omitempty" json:"title,omitempty"`
	StoragePath    string     `bson:"storage_path,omitempty" json:"-"`
	ContentHash    string     `bson:"content_hash,omitempty" json:"content_hash,omitempty"`
	FileSize       int64      `bson:"file_size,omitempty" json:"file_size,omitempty"`
	Version        int        `bson:"version" json:"version"`
	PreviousID     string     `bson:"previous_id,omitempty" json:"previous_id,omitempty"`
	Status         string     `bson:"status" json:"status"`
	FailedStage    Stage      `bson:"failed_stage,omitempty" json:"failed_stage,omitempty"`
	ErrorMessage   string     `bson:"error_message,omitempty" json:"error_message,omitempty"`
	PageCount      int        `bson:"page_count" json:"page_count"`
	WordCount      int        `bson:"word_count" json:"word_count"`
	TableCount     int        `bson:"table_count" json:"table_count"`
	ChunkCount     int        `bson:"chunk_count" json:"chunk_count"`
	PublishDate    *time.Time `bson:"publish_date,omitempty" json:"publish_date,omitempty"`
	EmbeddingModel string     `bson:"embedding_model,omitempty" json:"embedding_model,omitempty"`
	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at" json:"updated_at"`
	StartedAt      *time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt    *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// InFlight reports whether the document is still moving through the pipeline.
func (d *Document) InFlight() bool {
	return d.Status == StatusPending || d.Status == StatusProcessing
}

// DocumentResult carries the derived artifacts written on completion.
type DocumentResult struct {
	Title          string
	Hostname       string
	PageCount      int
	WordCount      int
	TableCount     int
	ChunkCount     int
	PublishDate    *time.Time
	EmbeddingModel string
}

// DocumentFilter selects documents of one company.
type DocumentFilter struct {
	CompanyID string
	Kind      SourceKind
	Status    string
	Page      int
	Limit     int
}

// Chunk is a text window of a document. Offsets are rune offsets into the
// parsed text.
type Chunk struct {
	ID         string    `bson:"_id" json:"id"`
	DocumentID string    `bson:"document_id" json:"document_id"`
	CompanyID  string    `bson:"company_id" json:"company_id"`
	Index      int       `bson:"index" json:"index"`
	Start      int       `bson:"start" json:"start"`
	End        int       `bson:"end" json:"end"`
	Text       string    `bson:"text" json:"text"`
	Status     string    `bson:"status" json:"status"`
	Vector     []float32 `bson:"vector,omitempty" json:"-"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

// Table is a tabular region extracted at parse time.
type Table struct {
	ID         string     `bson:"_id" json:"id"`
	DocumentID string     `bson:"document_id" json:"document_id"`
	CompanyID  string     `bson:"company_id" json:"company_id"`
	Page       int        `bson:"page" json:"page"`
	Index      int        `bson:"index" json:"index"`
	Title      string     `bson:"title" json:"title"`
	Header     []string   `bson:"header" json:"header"`
	Rows       [][]string `bson:"rows" json:"rows"`
}
