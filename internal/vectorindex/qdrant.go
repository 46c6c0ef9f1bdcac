package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"financerag/models"
)

const payloadVisible = "visible"

// Qdrant talks to a Qdrant server over its REST API, one collection per
// namespace. Upsert writes points hidden, Publish reveals a document with a
// single payload update, and deletes hide before they remove.
type Qdrant struct {
	base   string
	apiKey string
	client *http.Client
}

func NewQdrant(endpoint, apiKey string, timeout time.Duration) *Qdrant {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Qdrant{
		base:   strings.TrimRight(endpoint, "/"),
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (q *Qdrant) Backend() string { return "qdrant" }

type qdrantError struct {
	Status int
	Body   string
}

func (e *qdrantError) Error() string {
	return fmt.Sprintf("qdrant: status %d: %s", e.Status, e.Body)
}

func (e *qdrantError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func (q *Qdrant) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return models.Transient("qdrant", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return models.Transient("qdrant", err)
	}
	if resp.StatusCode >= 300 {
		return &qdrantError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func isNotFound(err error) bool {
	qe, ok := err.(*qdrantError)
	return ok && qe.Status == http.StatusNotFound
}

func (q *Qdrant) collectionPath(ns Namespace, suffix string) string {
	return "/collections/" + url.PathEscape(ns.name) + suffix
}

func (q *Qdrant) Ping(ctx context.Context) error {
	return q.do(ctx, http.MethodGet, "/", nil, nil)
}

type qdrantCollectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

func (q *Qdrant) EnsureNamespace(ctx context.Context, ns Namespace, dim int) error {
	var info qdrantCollectionInfo
	err := q.do(ctx, http.MethodGet, q.collectionPath(ns, ""), nil, &info)
	if err == nil {
		if have := info.Result.Config.Params.Vectors.Size; have != 0 && dim != 0 && have != dim {
			return fmt.Errorf("namespace %s has dimension %d, want %d", ns.name, have, dim)
		}
		return nil
	}
	if !isNotFound(err) {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("qdrant: namespace %s needs a dimension", ns.name)
	}
	create := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	if err := q.do(ctx, http.MethodPut, q.collectionPath(ns, ""), create, nil); err != nil {
		return fmt.Errorf("qdrant create %s: %w", ns.name, err)
	}
	for _, field := range []string{metaDocumentID, payloadVisible} {
		schema := "keyword"
		if field == payloadVisible {
			schema = "bool"
		}
		idx := map[string]any{"field_name": field, "field_schema": schema}
		if err := q.do(ctx, http.MethodPut, q.collectionPath(ns, "/index?wait=true"), idx, nil); err != nil {
			return fmt.Errorf("qdrant index %s on %s: %w", field, ns.name, err)
		}
	}
	return nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Score   float64        `json:"score,omitempty"`
}

func matchFilter(key string, value any) map[string]any {
	return map[string]any{"must": []map[string]any{
		{"key": key, "match": map[string]any{"value": value}},
	}}
}

func (q *Qdrant) Upsert(ctx context.Context, ns Namespace, records []Record) error {
	if err := validateRecords(ns, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := q.EnsureNamespace(ctx, ns, len(records[0].Vector)); err != nil {
		return err
	}

	points := make([]qdrantPoint, len(records))
	for i, r := range records {
		points[i] = qdrantPoint{
			ID:     r.ChunkID,
			Vector: r.Vector,
			Payload: map[string]any{
				metaDocumentID: r.DocumentID,
				metaCompanyID:  r.CompanyID,
				metaKind:       string(r.Kind),
				metaOrigin:     r.Origin,
				metaIndex:      r.Index,
				metaStart:      r.Start,
				metaEnd:        r.End,
				metaIngestedAt: r.IngestedAt.UTC().Format(time.RFC3339Nano),
				"text":         r.Text,
				payloadVisible: false,
			},
		}
	}
	if err := q.do(ctx, http.MethodPut, q.collectionPath(ns, "/points?wait=true"), map[string]any{"points": points}, nil); err != nil {
		return fmt.Errorf("qdrant upsert into %s: %w", ns.name, err)
	}
	return nil
}

func documentFilter(documentID string, visible bool) map[string]any {
	return map[string]any{"must": []map[string]any{
		{"key": metaDocumentID, "match": map[string]any{"value": documentID}},
		{"key": payloadVisible, "match": map[string]any{"value": visible}},
	}}
}

// Publish drops what was visible for the document and then flips its hidden
// points visible with one payload update. Nothing happens when no points are
// hidden.
func (q *Qdrant) Publish(ctx context.Context, ns Namespace, documentID string) error {
	hidden, err := q.count(ctx, ns, documentFilter(documentID, false))
	if err != nil {
		return fmt.Errorf("qdrant publish %s in %s: %w", documentID, ns.name, err)
	}
	if hidden == 0 {
		return nil
	}
	stale := map[string]any{"filter": documentFilter(documentID, true)}
	if err := q.do(ctx, http.MethodPost, q.collectionPath(ns, "/points/delete?wait=true"), stale, nil); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("qdrant replace %s in %s: %w", documentID, ns.name, err)
	}
	publish := map[string]any{"payload": map[string]any{payloadVisible: true}, "filter": documentFilter(documentID, false)}
	if err := q.do(ctx, http.MethodPost, q.collectionPath(ns, "/points/payload?wait=true"), publish, nil); err != nil {
		return fmt.Errorf("qdrant publish %s in %s: %w", documentID, ns.name, err)
	}
	return nil
}

func (q *Qdrant) Query(ctx context.Context, ns Namespace, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	search := map[string]any{
		"vector":       vector,
		"limit":        max(4*k, 50),
		"with_payload": true,
		"filter":       matchFilter(payloadVisible, true),
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.collectionPath(ns, "/points/search"), search, &resp); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("qdrant query %s: %w", ns.name, err)
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, p := range resp.Result {
		hits = append(hits, Hit{Record: p.record(), Score: p.Score})
	}
	hits = Rank(hits, k)
	if err := CheckIsolation(q.Backend(), ns, hits); err != nil {
		return nil, err
	}
	return hits, nil
}

func (p qdrantPoint) record() Record {
	str := func(k string) string { s, _ := p.Payload[k].(string); return s }
	num := func(k string) int { f, _ := p.Payload[k].(float64); return int(f) }
	at, _ := time.Parse(time.RFC3339Nano, str(metaIngestedAt))
	return Record{
		ChunkID:    p.ID,
		DocumentID: str(metaDocumentID),
		CompanyID:  str(metaCompanyID),
		Kind:       models.SourceKind(str(metaKind)),
		Origin:     str(metaOrigin),
		Index:      num(metaIndex),
		Start:      num(metaStart),
		End:        num(metaEnd),
		Text:       str("text"),
		IngestedAt: at,
	}
}

func (q *Qdrant) DeleteDocument(ctx context.Context, ns Namespace, documentID string) error {
	filter := matchFilter(metaDocumentID, documentID)
	hide := map[string]any{"payload": map[string]any{payloadVisible: false}, "filter": filter}
	if err := q.do(ctx, http.MethodPost, q.collectionPath(ns, "/points/payload?wait=true"), hide, nil); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("qdrant hide %s in %s: %w", documentID, ns.name, err)
	}
	if err := q.do(ctx, http.MethodPost, q.collectionPath(ns, "/points/delete?wait=true"), map[string]any{"filter": filter}, nil); err != nil {
		return fmt.Errorf("qdrant delete %s in %s: %w", documentID, ns.name, err)
	}
	return nil
}

func (q *Qdrant) DropNamespace(ctx context.Context, ns Namespace) error {
	err := q.do(ctx, http.MethodDelete, q.collectionPath(ns, ""), nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("qdrant drop %s: %w", ns.name, err)
	}
	return nil
}

func (q *Qdrant) count(ctx context.Context, ns Namespace, filter map[string]any) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, q.collectionPath(ns, "/points/count"), map[string]any{"filter": filter, "exact": true}, &resp)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return resp.Result.Count, nil
}

func (q *Qdrant) Count(ctx context.Context, ns Namespace) (int, error) {
	return q.count(ctx, ns, matchFilter(payloadVisible, true))
}

func (q *Qdrant) CountDocument(ctx context.Context, ns Namespace, documentID string) (int, error) {
	return q.count(ctx, ns, documentFilter(documentID, true))
}
