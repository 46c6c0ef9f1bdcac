package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"financerag/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	companiesCollection = "companies"
	documentsCollection = "documents"
	chunksCollection    = "chunks"
	tablesCollection    = "tables"
	historyCollection   = "history"
	settingsCollection  = "settings"
)

// Mongo is the MongoDB system of record.
type Mongo struct {
	db        *mongo.Database
	companies *mongo.Collection
	documents *mongo.Collection
	chunks    *mongo.Collection
	tables    *mongo.Collection
	history   *mongo.Collection
	settings  *mongo.Collection
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{
		db:        db,
		companies: db.Collection(companiesCollection),
		documents: db.Collection(documentsCollection),
		chunks:    db.Collection(chunksCollection),
		tables:    db.Collection(tablesCollection),
		history:   db.Collection(historyCollection),
		settings:  db.Collection(settingsCollection),
	}
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.db.Client().Ping(ctx, nil)
}

// CreateIndexes creates every index the keyed lookups rely on.
func (m *Mongo) CreateIndexes(ctx context.Context) error {
	caseInsensitive := &options.Collation{Locale: "en", Strength: 2}
	specs := map[*mongo.Collection][]mongo.IndexModel{
		m.companies: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true).SetCollation(caseInsensitive),
			},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		m.documents: {
			{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "origin", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
		},
		m.chunks: {
			{Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "index", Value: 1}}},
			{Keys: bson.D{{Key: "company_id", Value: 1}}},
		},
		m.tables: {
			{Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "index", Value: 1}}},
			{Keys: bson.D{{Key: "company_id", Value: 1}}},
		},
		m.history: {
			{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "category", Value: 1}}},
		},
	}
	for col, idx := range specs {
		if _, err := col.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", col.Name(), err)
		}
	}
	return nil
}

// Companies

func (m *Mongo) CreateCompany(ctx context.Context, c *models.Company) error {
	if _, err := m.companies.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.ErrDuplicateCompany
		}
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

func (m *Mongo) GetCompany(ctx context.Context, id string) (*models.Company, error) {
	var c models.Company
	err := m.companies.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get company %s: %w", id, err)
	}
	return &c, nil
}

func (m *Mongo) ListCompanies(ctx context.Context) ([]models.Company, error) {
	cur, err := m.companies.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	out := []models.Company{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode companies: %w", err)
	}
	return out, nil
}

// casMiss tells a missing record apart from a failed compare-and-set.
func casMiss(ctx context.Context, col *mongo.Collection, id string, notFound error) error {
	n, err := col.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return models.ErrStatusConflict
}

func (m *Mongo) SetCompanyStatus(ctx context.Context, id string, from []string, to string) (*models.Company, error) {
	var c models.Company
	err := m.companies.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": bson.M{"status": to, "updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, casMiss(ctx, m.companies, id, models.ErrCompanyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("set company status: %w", err)
	}
	return &c, nil
}

func (m *Mongo) IncrementCounters(ctx context.Context, id string, delta models.CounterDelta, touch bool) error {
	now := time.Now().UTC()
	set := bson.M{"updated_at": now}
	if touch {
		set["last_updated_at"] = now
	}
	res, err := m.companies.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{
			"document_count": delta.Documents,
			"url_count":      delta.URLs,
			"question_count": delta.Questions,
		},
		"$set": set,
	})
	if err != nil {
		return fmt.Errorf("increment counters: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrCompanyNotFound
	}
	return nil
}

func (m *Mongo) ResetCounters(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := m.companies.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"document_count":  0,
		"url_count":       0,
		"updated_at":      now,
		"last_updated_at": now,
	}})
	if err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrCompanyNotFound
	}
	return nil
}

func (m *Mongo) SwitchIndex(ctx context.Context, id, model string, generation int) error {
	res, err := m.companies.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$ne": models.CompanyDeleting}},
		bson.M{"$set": bson.M{
			"embedding_model":  model,
			"index_generation": generation,
			"status":           models.CompanyActive,
			"updated_at":       time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("switch index: %w", err)
	}
	if res.MatchedCount == 0 {
		err := casMiss(ctx, m.companies, id, models.ErrCompanyNotFound)
		if errors.Is(err, models.ErrStatusConflict) {
			return models.ErrCompanyDeleting
		}
		return err
	}
	return nil
}

func (m *Mongo) DeleteCompany(ctx context.Context, id string) error {
	res, err := m.companies.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete company: %w", err)
	}
	if res.DeletedCount == 0 {
		return models.ErrCompanyNotFound
	}
	return nil
}

// Documents

func (m *Mongo) CreateDocument(ctx context.Context, d *models.Document) error {
	if _, err := m.documents.InsertOne(ctx, d); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (m *Mongo) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var d models.Document
	err := m.documents.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &d, nil
}

func (m *Mongo) ListDocuments(ctx context.Context, f models.DocumentFilter) ([]models.Document, int64, error) {
	filter := bson.M{"company_id": f.CompanyID}
	if f.Kind != "" {
		filter["kind"] = f.Kind
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	total, err := m.documents.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	skip, limit := pageWindow(f.Page, f.Limit)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(skip)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := m.documents.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	out := []models.Document{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, fmt.Errorf("decode documents: %w", err)
	}
	return out, total, nil
}

func (m *Mongo) TransitionDocument(ctx context.Context, id string, from []string, to string, patch DocumentPatch) (*models.Document, error) {
	var current models.Document
	applyPatch(&current, to, patch, time.Now().UTC())

	set := bson.M{
		"status":        current.Status,
		"updated_at":    current.UpdatedAt,
		"failed_stage":  current.FailedStage,
		"error_message": current.ErrorMessage,
	}
	if patch.StartedAt != nil {
		set["started_at"] = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		set["completed_at"] = patch.CompletedAt
	}
	if r := patch.Result; r != nil {
		if r.Title != "" {
			set["title"] = r.Title
		}
		if r.Hostname != "" {
			set["hostname"] = r.Hostname
		}
		set["page_count"] = r.PageCount
		set["word_count"] = r.WordCount
		set["table_count"] = r.TableCount
		set["chunk_count"] = r.ChunkCount
		set["publish_date"] = r.PublishDate
		set["embedding_model"] = r.EmbeddingModel
	}

	var d models.Document
	err := m.documents.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, casMiss(ctx, m.documents, id, models.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("transition document %s: %w", id, err)
	}
	return &d, nil
}

func (m *Mongo) FindInFlight(ctx context.Context, companyID string, kind models.SourceKind, origin string) (*models.Document, error) {
	var d models.Document
	err := m.documents.FindOne(ctx, bson.M{
		"company_id": companyID,
		"kind":       kind,
		"origin":     origin,
		"status":     bson.M{"$in": []string{models.StatusPending, models.StatusProcessing}},
	}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find in-flight document: %w", err)
	}
	return &d, nil
}

func (m *Mongo) CountDocumentsByStatus(ctx context.Context, companyID string) (map[models.SourceKind]map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"company_id": companyID}}},
		{{Key: "$group", Value: bson.M{
			"_id":   bson.M{"kind": "$kind", "status": "$status"},
			"count": bson.M{"$sum": 1},
		}}},
	}
	cur, err := m.documents.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count documents by status: %w", err)
	}
	var rows []struct {
		ID struct {
			Kind   models.SourceKind `bson:"kind"`
			Status string            `bson:"status"`
		} `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := map[models.SourceKind]map[string]int64{
		models.SourcePDF: {},
		models.SourceURL: {},
	}
	for _, r := range rows {
		if out[r.ID.Kind] == nil {
			out[r.ID.Kind] = map[string]int64{}
		}
		out[r.ID.Kind][r.ID.Status] = r.Count
	}
	return out, nil
}

func (m *Mongo) ListStale(ctx context.Context, status string, updatedBefore time.Time) ([]models.Document, error) {
	cur, err := m.documents.Find(ctx, bson.M{"status": status, "updated_at": bson.M{"$lt": updatedBefore}})
	if err != nil {
		return nil, fmt.Errorf("list stale documents: %w", err)
	}
	var out []models.Document
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Mongo) DeleteDocument(ctx context.Context, id string) error {
	res, err := m.documents.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if res.DeletedCount == 0 {
		return models.ErrDocumentNotFound
	}
	return nil
}

func (m *Mongo) DeleteCompanyDocuments(ctx context.Context, companyID string) (int64, error) {
	res, err := m.documents.DeleteMany(ctx, bson.M{"company_id": companyID})
	if err != nil {
		return 0, fmt.Errorf("delete company documents: %w", err)
	}
	return res.DeletedCount, nil
}

// Chunks

func (m *Mongo) SaveChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(chunks))
	for _, c := range chunks {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": c.ID}).
			SetReplacement(c).
			SetUpsert(true))
	}
	if _, err := m.chunks.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("save chunks: %w", err)
	}
	return nil
}

func (m *Mongo) ListChunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	cur, err := m.chunks.Find(ctx, bson.M{"document_id": documentID},
		options.Find().SetSort(bson.D{{Key: "index", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	var out []models.Chunk
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Mongo) DeleteDocumentChunks(ctx context.Context, documentID string) error {
	_, err := m.chunks.DeleteMany(ctx, bson.M{"document_id": documentID})
	return err
}

func (m *Mongo) DeleteCompanyChunks(ctx context.Context, companyID string) error {
	_, err := m.chunks.DeleteMany(ctx, bson.M{"company_id": companyID})
	return err
}

// Tables

func (m *Mongo) SaveTables(ctx context.Context, documentID string, tables []models.Table) error {
	if _, err := m.tables.DeleteMany(ctx, bson.M{"document_id": documentID}); err != nil {
		return fmt.Errorf("replace tables: %w", err)
	}
	if len(tables) == 0 {
		return nil
	}
	docs := make([]interface{}, len(tables))
	for i := range tables {
		docs[i] = tables[i]
	}
	if _, err := m.tables.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert tables: %w", err)
	}
	return nil
}

func (m *Mongo) ListTables(ctx context.Context, documentID string) ([]models.Table, error) {
	return m.findTables(ctx, bson.M{"document_id": documentID})
}

func (m *Mongo) ListTablesFor(ctx context.Context, companyID string, documentIDs []string) ([]models.Table, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	return m.findTables(ctx, bson.M{"company_id": companyID, "document_id": bson.M{"$in": documentIDs}})
}

func (m *Mongo) findTables(ctx context.Context, filter bson.M) ([]models.Table, error) {
	cur, err := m.tables.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "document_id", Value: 1}, {Key: "index", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var out []models.Table
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Mongo) DeleteDocumentTables(ctx context.Context, documentID string) error {
	_, err := m.tables.DeleteMany(ctx, bson.M{"document_id": documentID})
	return err
}

func (m *Mongo) DeleteCompanyTables(ctx context.Context, companyID string) error {
	_, err := m.tables.DeleteMany(ctx, bson.M{"company_id": companyID})
	return err
}

// History

func (m *Mongo) InsertHistory(ctx context.Context, item *models.HistoryItem) error {
	if _, err := m.history.InsertOne(ctx, item); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (m *Mongo) GetHistory(ctx context.Context, id string) (*models.HistoryItem, error) {
	var h models.HistoryItem
	err := m.history.FindOne(ctx, bson.M{"_id": id}).Decode(&h)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrHistoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", id, err)
	}
	return &h, nil
}

func (m *Mongo) DeleteHistory(ctx context.Context, id string) error {
	res, err := m.history.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	if res.DeletedCount == 0 {
		return models.ErrHistoryNotFound
	}
	return nil
}

func historyFilter(f models.HistoryFilter) bson.M {
	filter := bson.M{}
	if f.CompanyID != "" {
		filter["company_id"] = f.CompanyID
	}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.Search != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(f.Search), "$options": "i"}
		filter["$or"] = bson.A{
			bson.M{"question": pattern},
			bson.M{"answer": pattern},
		}
	}
	return filter
}

func (m *Mongo) SearchHistory(ctx context.Context, f models.HistoryFilter) ([]models.HistoryItem, int64, error) {
	filter := historyFilter(f)
	total, err := m.history.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	skip, limit := pageWindow(f.Page, f.Limit)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(skip)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := m.history.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("search history: %w", err)
	}
	out := []models.HistoryItem{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (m *Mongo) HistoryStats(ctx context.Context, companyID string) (*models.HistoryStats, error) {
	match := bson.M{}
	if companyID != "" {
		match["company_id"] = companyID
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id":          "$category",
			"count":        bson.M{"$sum": 1},
			"total_ms":     bson.M{"$sum": "$response_time_ms"},
			"with_context": bson.M{"$sum": bson.M{"$cond": bson.A{"$context_found", 1, 0}}},
		}}},
	}
	cur, err := m.history.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	var rows []struct {
		Category    string `bson:"_id"`
		Count       int64  `bson:"count"`
		TotalMS     int64  `bson:"total_ms"`
		WithContext int64  `bson:"with_context"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}

	stats := &models.HistoryStats{ByCategory: make(map[string]int64)}
	var totalMS int64
	for _, r := range rows {
		stats.ByCategory[r.Category] = r.Count
		stats.Total += r.Count
		stats.WithContext += r.WithContext
		totalMS += r.TotalMS
	}
	if stats.Total > 0 {
		stats.AvgResponseTimeMS = totalMS / stats.Total
	}
	return stats, nil
}

func (m *Mongo) DeleteCompanyHistory(ctx context.Context, companyID string) error {
	_, err := m.history.DeleteMany(ctx, bson.M{"company_id": companyID})
	return err
}

// Settings

func (m *Mongo) GetSettings(ctx context.Context) (*models.Settings, error) {
	var s models.Settings
	err := m.settings.FindOne(ctx, bson.M{"_id": models.SettingsID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}

func (m *Mongo) SaveSettings(ctx context.Context, s *models.Settings, expectedRevision int64) error {
	next := *s
	next.ID = models.SettingsID
	next.Revision = expectedRevision + 1
	next.UpdatedAt = time.Now().UTC()

	filter := bson.M{"_id": models.SettingsID, "revision": expectedRevision}
	opts := options.Replace()
	if expectedRevision == 0 {
		// first save creates the document
		opts.SetUpsert(true)
	}
	res, err := m.settings.ReplaceOne(ctx, filter, next, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.ErrStatusConflict
		}
		return fmt.Errorf("save settings: %w", err)
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return models.ErrStatusConflict
	}
	s.Revision = next.Revision
	s.UpdatedAt = next.UpdatedAt
	return nil
}
