// Package vectorindex stores chunk vectors in one namespace per company and
// answers nearest-neighbour queries inside a single namespace.
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"financerag/internal/logger"
	"financerag/internal/telemetry"
	"financerag/models"
)

// Namespace scopes every index call to one company. The zero value is
// invalid; build one with NamespaceFor.
type Namespace struct {
	name       string
	companyID  string
	generation int
}

// NamespaceFor returns the namespace holding the company's current vectors.
func NamespaceFor(c *models.Company) Namespace {
	return NamespaceAt(c, c.IndexGeneration)
}

// NamespaceAt returns the namespace of a specific index generation.
// Generation 0 has no suffix.
func NamespaceAt(c *models.Company, generation int) Namespace {
	base := c.Namespace
	if base == "" {
		base = models.NamespaceName(c.ID)
	}
	name := base
	if generation > 0 {
		name = fmt.Sprintf("%s_g%d", base, generation)
	}
	return Namespace{name: name, companyID: c.ID, generation: generation}
}

func (n Namespace) Name() string      { return n.name }
func (n Namespace) CompanyID() string { return n.companyID }
func (n Namespace) Generation() int   { return n.generation }
func (n Namespace) IsZero() bool      { return n.name == "" }
func (n Namespace) String() string    { return n.name }

// Record is one stored chunk vector with the metadata needed to cite it.
type Record struct {
	ChunkID    string
	DocumentID string
	CompanyID  string
	Kind       models.SourceKind
	Origin     string
	Index      int
	Start      int
	End        int
	Text       string
	Vector     []float32
	IngestedAt time.Time
}

// Hit is a record scored against a query vector.
type Hit struct {
	Record
	Score float64
}

// Index is implemented by every vector backend.
//
// Upsert stages records without making them visible. Publish makes every
// staged record of one document visible to Query in a single step, replacing
// what was published for it before; with nothing staged it changes nothing.
// DeleteDocument removes staged and
// published records, atomically with respect to Query. Count, CountDocument
// and Query only see published records.
type Index interface {
	EnsureNamespace(ctx context.Context, ns Namespace, dim int) error
	Upsert(ctx context.Context, ns Namespace, records []Record) error
	Publish(ctx context.Context, ns Namespace, documentID string) error
	Query(ctx context.Context, ns Namespace, vector []float32, k int) ([]Hit, error)
	DeleteDocument(ctx context.Context, ns Namespace, documentID string) error
	DropNamespace(ctx context.Context, ns Namespace) error
	Count(ctx context.Context, ns Namespace) (int, error)
	CountDocument(ctx context.Context, ns Namespace, documentID string) (int, error)
	Ping(ctx context.Context) error
	Backend() string
}

// Rank sorts hits by score, then newer ingestion, then chunk id, and keeps
// the first k.
func Rank(hits []Hit, k int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.IngestedAt.Equal(b.IngestedAt) {
			return a.IngestedAt.After(b.IngestedAt)
		}
		return a.ChunkID < b.ChunkID
	})
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// CheckIsolation fails if any hit belongs to another company than ns.
func CheckIsolation(backend string, ns Namespace, hits []Hit) error {
	for _, h := range hits {
		if h.CompanyID != ns.companyID {
			violation := &models.IsolationViolation{Namespace: ns.name, Expected: ns.companyID, Found: h.CompanyID}
			logger.Error("vector index isolation violation",
				"backend", backend,
				"namespace", ns.name,
				"expected_company", ns.companyID,
				"found_company", h.CompanyID,
				"chunk_id", h.ChunkID,
			)
			telemetry.Current().RecordIsolationViolation(backend, ns.name)
			return violation
		}
	}
	return nil
}

// validateRecords rejects writes that would put foreign or malformed records
// into ns.
func validateRecords(ns Namespace, records []Record) error {
	if ns.IsZero() {
		return fmt.Errorf("vector index: empty namespace")
	}
	var dim int
	for i, r := range records {
		if r.CompanyID != ns.companyID {
			return &models.IsolationViolation{Namespace: ns.name, Expected: ns.companyID, Found: r.CompanyID}
		}
		if len(r.Vector) == 0 {
			return fmt.Errorf("vector index: record %s has no vector", r.ChunkID)
		}
		if i == 0 {
			dim = len(r.Vector)
		} else if len(r.Vector) != dim {
			return fmt.Errorf("vector index: record %s has dimension %d, want %d", r.ChunkID, len(r.Vector), dim)
		}
	}
	return nil
}

// Cosine returns the cosine similarity of a and b, 0 when either is zero or
// their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
