package vectorindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePoint struct {
	vector  []float32
	payload map[string]any
}

// fakeQdrant serves the subset of the Qdrant REST API the client uses.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]map[string]*fakePoint
	// number of points observed hidden between upsert and publish
	hiddenSeen int
}

type fakeFilter struct {
	Must []struct {
		Key   string `json:"key"`
		Match struct {
			Value any `json:"value"`
		} `json:"match"`
	} `json:"must"`
}

func (f *fakeFilter) matches(p *fakePoint) bool {
	if f == nil {
		return true
	}
	for _, m := range f.Must {
		if p.payload[m.Key] != m.Match.Value {
			return false
		}
	}
	return true
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/" {
		_ = json.NewEncoder(w).Encode(map[string]any{"title": "fake"})
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/collections/"), "/")
	name := parts[0]
	rest := strings.Join(parts[1:], "/")
	col, exists := f.collections[name]

	var body struct {
		Points  json.RawMessage `json:"points"`
		Payload map[string]any  `json:"payload"`
		Filter  *fakeFilter     `json:"filter"`
		Vector  []float32       `json:"vector"`
		Limit   int             `json:"limit"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case rest == "" && r.Method == http.MethodPut:
		f.collections[name] = make(map[string]*fakePoint)
		writeOK(w, true)
		return
	case !exists:
		http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
		return
	case rest == "" && r.Method == http.MethodGet:
		writeOK(w, map[string]any{"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": 4}}}})
	case rest == "" && r.Method == http.MethodDelete:
		delete(f.collections, name)
		writeOK(w, true)
	case rest == "index":
		writeOK(w, true)
	case rest == "points" && r.Method == http.MethodPut:
		var pts []qdrantPoint
		_ = json.Unmarshal(body.Points, &pts)
		for _, p := range pts {
			col[p.ID] = &fakePoint{vector: p.Vector, payload: p.Payload}
			if p.Payload[payloadVisible] == false {
				f.hiddenSeen++
			}
		}
		writeOK(w, true)
	case rest == "points/payload":
		var ids []string
		_ = json.Unmarshal(body.Points, &ids)
		for id, p := range col {
			if (len(ids) > 0 && contains(ids, id)) || (body.Filter != nil && body.Filter.matches(p)) {
				for k, v := range body.Payload {
					p.payload[k] = v
				}
			}
		}
		writeOK(w, true)
	case rest == "points/delete":
		for id, p := range col {
			if body.Filter.matches(p) {
				delete(col, id)
			}
		}
		writeOK(w, true)
	case rest == "points/count":
		n := 0
		for _, p := range col {
			if body.Filter.matches(p) {
				n++
			}
		}
		writeOK(w, map[string]any{"count": n})
	case rest == "points/search":
		var out []qdrantPoint
		for id, p := range col {
			if body.Filter.matches(p) {
				out = append(out, qdrantPoint{ID: id, Payload: p.payload, Score: Cosine(body.Vector, p.vector)})
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		if len(out) > body.Limit {
			out = out[:body.Limit]
		}
		writeOK(w, out)
	default:
		http.Error(w, "unsupported", http.StatusBadRequest)
	}
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func writeOK(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func newFakeQdrant(t *testing.T) (*Qdrant, *fakeQdrant) {
	fake := &fakeQdrant{collections: make(map[string]map[string]*fakePoint)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewQdrant(srv.URL, "", 5*time.Second), fake
}

func TestQdrant(t *testing.T) {
	q, fake := newFakeQdrant(t)
	require.NoError(t, q.Ping(context.Background()))
	exerciseIndex(t, q)
	assert.Positive(t, fake.hiddenSeen)
}

func TestQdrant_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL, "key", time.Second)
	_, err := q.Count(context.Background(), NamespaceFor(acme))
	require.Error(t, err)
	var qe *qdrantError
	require.ErrorAs(t, err, &qe)
	assert.True(t, qe.Transient())
}
