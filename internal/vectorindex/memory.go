package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memSpace struct {
	companyID string
	dim       int
	// replaced wholesale on every publish or delete, never mutated in place
	records []Record
	// document id → chunk id → record, not yet visible
	staged map[string]map[string]Record
}

// Memory keeps every namespace in process memory. Writers swap in a new
// slice under the lock, so a query works on a consistent snapshot.
type Memory struct {
	mu     sync.RWMutex
	spaces map[string]*memSpace
}

func NewMemory() *Memory {
	return &Memory{spaces: make(map[string]*memSpace)}
}

func (m *Memory) Backend() string { return "memory" }

func (m *Memory) Ping(context.Context) error { return nil }

// space returns the namespace, creating it. Callers hold the write lock.
func (m *Memory) space(ns Namespace) *memSpace {
	sp, ok := m.spaces[ns.name]
	if !ok {
		sp = &memSpace{companyID: ns.companyID}
		m.spaces[ns.name] = sp
	}
	if sp.staged == nil {
		sp.staged = make(map[string]map[string]Record)
	}
	return sp
}

func (m *Memory) EnsureNamespace(_ context.Context, ns Namespace, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp := m.space(ns)
	if sp.dim != 0 && dim != 0 && sp.dim != dim {
		return fmt.Errorf("namespace %s has dimension %d, want %d", ns.name, sp.dim, dim)
	}
	if sp.dim == 0 {
		sp.dim = dim
	}
	return nil
}

func (m *Memory) Upsert(_ context.Context, ns Namespace, records []Record) error {
	if err := validateRecords(ns, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sp := m.space(ns)
	dim := len(records[0].Vector)
	if sp.dim == 0 {
		sp.dim = dim
	} else if sp.dim != dim {
		return fmt.Errorf("namespace %s has dimension %d, got %d", ns.name, sp.dim, dim)
	}

	for _, r := range records {
		doc, ok := sp.staged[r.DocumentID]
		if !ok {
			doc = make(map[string]Record)
			sp.staged[r.DocumentID] = doc
		}
		r.Vector = append([]float32(nil), r.Vector...)
		doc[r.ChunkID] = r
	}
	return nil
}

func (m *Memory) Publish(_ context.Context, ns Namespace, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.spaces[ns.name]
	if !ok {
		return nil
	}
	staged, ok := sp.staged[documentID]
	if !ok {
		return nil
	}
	next := make([]Record, 0, len(sp.records)+len(staged))
	for _, r := range sp.records {
		if r.DocumentID != documentID {
			next = append(next, r)
		}
	}
	added := make([]Record, 0, len(staged))
	for _, r := range staged {
		added = append(added, r)
	}
	sort.Slice(added, func(i, j int) bool { return added[i].Index < added[j].Index })
	sp.records = append(next, added...)
	delete(sp.staged, documentID)
	return nil
}

func (m *Memory) snapshot(ns Namespace) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sp, ok := m.spaces[ns.name]; ok {
		return sp.records
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, ns Namespace, vector []float32, k int) ([]Hit, error) {
	records := m.snapshot(ns)
	hits := make([]Hit, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Record: r, Score: Cosine(vector, r.Vector)})
	}
	hits = Rank(hits, k)
	if err := CheckIsolation(m.Backend(), ns, hits); err != nil {
		return nil, err
	}
	return hits, nil
}

func (m *Memory) DeleteDocument(_ context.Context, ns Namespace, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.spaces[ns.name]
	if !ok {
		return nil
	}
	next := make([]Record, 0, len(sp.records))
	for _, r := range sp.records {
		if r.DocumentID != documentID {
			next = append(next, r)
		}
	}
	sp.records = next
	delete(sp.staged, documentID)
	return nil
}

func (m *Memory) DropNamespace(_ context.Context, ns Namespace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.spaces, ns.name)
	return nil
}

func (m *Memory) Count(_ context.Context, ns Namespace) (int, error) {
	return len(m.snapshot(ns)), nil
}

func (m *Memory) CountDocument(_ context.Context, ns Namespace, documentID string) (int, error) {
	n := 0
	for _, r := range m.snapshot(ns) {
		if r.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}
