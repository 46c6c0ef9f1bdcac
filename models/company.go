package models

import (
	"strings"
	"time"
)

// Company lifecycle states
const (
	CompanyActive     = "active"
	CompanyDeleting   = "deleting"
	CompanyReindexing = "reindexing"
)

// Company is the root of the ownership tree: documents, chunks, tables and
// history entries all hang off it.
type Company struct {
	ID              string     `bson:"_id" json:"id"`
	Name            string     `bson:"name" json:"name"`
	Slug            string     `bson:"slug" json:"slug"`
	Description     string     `bson:"description,omitempty" json:"description,omitempty"`
	Website         string     `bson:"website,omitempty" json:"website,omitempty"`
	Namespace       string     `bson:"namespace" json:"namespace"`
	Status          string     `bson:"status" json:"status"`
	DocumentCount   int64      `bson:"document_count" json:"document_count"`
	URLCount        int64      `bson:"url_count" json:"url_count"`
	QuestionCount   int64      `bson:"question_count" json:"question_count"`
	EmbeddingModel  string     `bson:"embedding_model,omitempty" json:"embedding_model,omitempty"`
	IndexGeneration int        `bson:"index_generation" json:"index_generation"`
	LastUpdatedAt   *time.Time `bson:"last_updated_at,omitempty" json:"last_updated_at,omitempty"`
	CreatedAt       time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at" json:"updated_at"`
}

// CounterDelta is applied atomically to a company's counters.
type CounterDelta struct {
	Documents int64
	URLs      int64
	Questions int64
}

// IsZero reports whether the delta changes nothing.
func (d CounterDelta) IsZero() bool {
	return d.Documents == 0 && d.URLs == 0 && d.Questions == 0
}

// DeltaFor returns the counter delta for one document of the given kind.
func DeltaFor(kind SourceKind, n int64) CounterDelta {
	if kind == SourceURL {
		return CounterDelta{URLs: n}
	}
	return CounterDelta{Documents: n}
}

// NamespaceName derives the vector namespace of a company from its id.
func NamespaceName(companyID string) string {
	return "company_" + strings.ReplaceAll(strings.ToLower(companyID), "-", "")
}

// Slugify lowercases a company name and joins its alphanumeric runs with
// dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// CompanyStats is the registry view of one knowledge base.
type CompanyStats struct {
	Company           *Company         `json:"company"`
	DocumentsByStatus map[string]int64 `json:"documents_by_status"`
	URLsByStatus      map[string]int64 `json:"urls_by_status"`
	IndexedVectors    int              `json:"indexed_vectors"`
}

// RegistryStats aggregates every company in the registry.
type RegistryStats struct {
	Companies         int              `json:"companies"`
	CompaniesByStatus map[string]int64 `json:"companies_by_status"`
	Documents         int64            `json:"documents"`
	URLs              int64            `json:"urls"`
	Questions         int64            `json:"questions"`
	DocumentsByStatus map[string]int64 `json:"documents_by_status"`
	URLsByStatus      map[string]int64 `json:"urls_by_status"`
	IndexedVectors    int              `json:"indexed_vectors"`
}
