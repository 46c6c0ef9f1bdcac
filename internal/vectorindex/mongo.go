package vectorindex

import (
	"context"
	"fmt"
	"time"

	"financerag/internal/database"
	"financerag/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoVector struct {
	ID         string    `bson:"_id"`
	ChunkID    string    `bson:"chunk_id"`
	DocumentID string    `bson:"document_id"`
	CompanyID  string    `bson:"company_id"`
	Batch      string    `bson:"batch"`
	Kind       string    `bson:"kind"`
	Origin     string    `bson:"origin"`
	Index      int       `bson:"chunk_index"`
	Start      int       `bson:"start"`
	End        int       `bson:"end"`
	Text       string    `bson:"text"`
	Vector     []float32 `bson:"vector"`
	IngestedAt time.Time `bson:"ingested_at"`
}

// mongoCommit marks which batch of a document is visible and which one is
// staged to replace it.
type mongoCommit struct {
	DocumentID   string    `bson:"_id"`
	Batch        string    `bson:"batch,omitempty"`
	Chunks       int       `bson:"chunks"`
	StagedBatch  string    `bson:"staged_batch,omitempty"`
	StagedChunks int       `bson:"staged_chunks,omitempty"`
	Dimension    int       `bson:"dimension"`
	CommitAt     time.Time `bson:"committed_at,omitempty"`
}

// Mongo stores each namespace in its own database. Vectors are written under
// a fresh batch id recorded as the document's staged batch. Publish points
// the commit marker at that batch in one write, which is when the vectors
// become visible.
type Mongo struct {
	dbs *database.TenantDBManager
}

func NewMongo(dbs *database.TenantDBManager) *Mongo {
	return &Mongo{dbs: dbs}
}

func (m *Mongo) Backend() string { return "mongo" }

func (m *Mongo) Ping(ctx context.Context) error { return m.dbs.Ping(ctx) }

func (m *Mongo) collections(ctx context.Context, ns Namespace) (*mongo.Collection, *mongo.Collection, error) {
	db, err := m.dbs.GetTenantDB(ctx, ns.name)
	if err != nil {
		return nil, nil, err
	}
	return db.Collection(database.VectorsCollection), db.Collection(database.CommitsCollection), nil
}

func (m *Mongo) EnsureNamespace(ctx context.Context, ns Namespace, dim int) error {
	_, commits, err := m.collections(ctx, ns)
	if err != nil {
		return err
	}
	var existing mongoCommit
	err = commits.FindOne(ctx, bson.M{"dimension": bson.M{"$gt": 0}}).Decode(&existing)
	if err == mongo.ErrNoDocuments {
		return nil
	}
	if err != nil {
		return err
	}
	if dim != 0 && existing.Dimension != dim {
		return fmt.Errorf("namespace %s has dimension %d, want %d", ns.name, existing.Dimension, dim)
	}
	return nil
}

func (m *Mongo) Upsert(ctx context.Context, ns Namespace, records []Record) error {
	if err := validateRecords(ns, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	dim := len(records[0].Vector)
	if err := m.EnsureNamespace(ctx, ns, dim); err != nil {
		return err
	}
	vectors, commits, err := m.collections(ctx, ns)
	if err != nil {
		return err
	}

	batch := uuid.NewString()
	perDoc := make(map[string]int)
	docs := make([]interface{}, 0, len(records))
	for _, r := range records {
		perDoc[r.DocumentID]++
		docs = append(docs, mongoVector{
			ID:         r.ChunkID + ":" + batch,
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			CompanyID:  r.CompanyID,
			Batch:      batch,
			Kind:       string(r.Kind),
			Origin:     r.Origin,
			Index:      r.Index,
			Start:      r.Start,
			End:        r.End,
			Text:       r.Text,
			Vector:     r.Vector,
			IngestedAt: r.IngestedAt.UTC(),
		})
	}
	if _, err := vectors.InsertMany(ctx, docs); err != nil {
		// hidden until committed; clean up what made it in
		_, _ = vectors.DeleteMany(ctx, bson.M{"batch": batch})
		return fmt.Errorf("mongo insert vectors into %s: %w", ns.name, err)
	}

	for docID, n := range perDoc {
		_, err := commits.UpdateOne(ctx,
			bson.M{"_id": docID},
			bson.M{"$set": bson.M{"staged_batch": batch, "staged_chunks": n, "dimension": dim}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("mongo stage %s in %s: %w", docID, ns.name, err)
		}
	}
	return nil
}

func (m *Mongo) Publish(ctx context.Context, ns Namespace, documentID string) error {
	vectors, commits, err := m.collections(ctx, ns)
	if err != nil {
		return err
	}
	var c mongoCommit
	err = commits.FindOne(ctx, bson.M{"_id": documentID}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mongo read commit %s in %s: %w", documentID, ns.name, err)
	}
	if c.StagedBatch == "" {
		return nil
	}

	// one conditional write flips visibility for the whole document
	_, err = commits.UpdateOne(ctx,
		bson.M{"_id": documentID, "staged_batch": c.StagedBatch},
		bson.M{
			"$set":   bson.M{"batch": c.StagedBatch, "chunks": c.StagedChunks, "committed_at": time.Now().UTC()},
			"$unset": bson.M{"staged_batch": "", "staged_chunks": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("mongo commit %s in %s: %w", documentID, ns.name, err)
	}
	// superseded batches are invisible now
	if _, err := vectors.DeleteMany(ctx, bson.M{"document_id": documentID, "batch": bson.M{"$ne": c.StagedBatch}}); err != nil {
		return fmt.Errorf("mongo prune %s in %s: %w", documentID, ns.name, err)
	}
	return nil
}

func (m *Mongo) committed(ctx context.Context, commits *mongo.Collection, filter bson.M) (map[string]string, error) {
	cur, err := commits.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[string]string)
	for cur.Next(ctx) {
		var c mongoCommit
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		if c.Batch != "" {
			out[c.DocumentID] = c.Batch
		}
	}
	return out, cur.Err()
}

func (m *Mongo) Query(ctx context.Context, ns Namespace, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	vectors, commits, err := m.collections(ctx, ns)
	if err != nil {
		return nil, err
	}

	before, err := m.committed(ctx, commits, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongo read commits of %s: %w", ns.name, err)
	}
	if len(before) == 0 {
		return nil, nil
	}
	batches := make([]string, 0, len(before))
	seen := make(map[string]bool)
	for _, b := range before {
		if !seen[b] {
			seen[b] = true
			batches = append(batches, b)
		}
	}

	cur, err := vectors.Find(ctx, bson.M{"batch": bson.M{"$in": batches}})
	if err != nil {
		return nil, fmt.Errorf("mongo query %s: %w", ns.name, err)
	}
	defer cur.Close(ctx)

	var hits []Hit
	for cur.Next(ctx) {
		var v mongoVector
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		if before[v.DocumentID] != v.Batch {
			continue
		}
		hits = append(hits, Hit{Record: v.record(), Score: Cosine(vector, v.Vector)})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	// a document deleted or replaced mid-read may be partially gone; drop it
	after, err := m.committed(ctx, commits, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongo revalidate commits of %s: %w", ns.name, err)
	}
	kept := hits[:0]
	for _, h := range hits {
		if after[h.DocumentID] == before[h.DocumentID] {
			kept = append(kept, h)
		}
	}

	kept = Rank(kept, k)
	if err := CheckIsolation(m.Backend(), ns, kept); err != nil {
		return nil, err
	}
	return kept, nil
}

func (v mongoVector) record() Record {
	return Record{
		ChunkID:    v.ChunkID,
		DocumentID: v.DocumentID,
		CompanyID:  v.CompanyID,
		Kind:       models.SourceKind(v.Kind),
		Origin:     v.Origin,
		Index:      v.Index,
		Start:      v.Start,
		End:        v.End,
		Text:       v.Text,
		Vector:     v.Vector,
		IngestedAt: v.IngestedAt,
	}
}

func (m *Mongo) DeleteDocument(ctx context.Context, ns Namespace, documentID string) error {
	vectors, commits, err := m.collections(ctx, ns)
	if err != nil {
		return err
	}
	// removing the marker hides the whole document in one write
	if _, err := commits.DeleteOne(ctx, bson.M{"_id": documentID}); err != nil {
		return fmt.Errorf("mongo uncommit %s in %s: %w", documentID, ns.name, err)
	}
	if _, err := vectors.DeleteMany(ctx, bson.M{"document_id": documentID}); err != nil {
		return fmt.Errorf("mongo delete %s in %s: %w", documentID, ns.name, err)
	}
	return nil
}

func (m *Mongo) DropNamespace(ctx context.Context, ns Namespace) error {
	if err := m.dbs.DropTenantDB(ctx, ns.name); err != nil {
		return fmt.Errorf("mongo drop %s: %w", ns.name, err)
	}
	return nil
}

func (m *Mongo) Count(ctx context.Context, ns Namespace) (int, error) {
	_, commits, err := m.collections(ctx, ns)
	if err != nil {
		return 0, err
	}
	cur, err := commits.Find(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)

	total := 0
	for cur.Next(ctx) {
		var c mongoCommit
		if err := cur.Decode(&c); err != nil {
			return 0, err
		}
		total += c.Chunks
	}
	return total, cur.Err()
}

func (m *Mongo) CountDocument(ctx context.Context, ns Namespace, documentID string) (int, error) {
	_, commits, err := m.collections(ctx, ns)
	if err != nil {
		return 0, err
	}
	var c mongoCommit
	err = commits.FindOne(ctx, bson.M{"_id": documentID}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return c.Chunks, nil
}
