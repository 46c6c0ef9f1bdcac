package database

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	VectorsCollection = "vectors"
	CommitsCollection = "commits"
)

// TenantDBManager hands out one Mongo database per vector namespace so a
// company's vectors never share a collection with another company's.
type TenantDBManager struct {
	client    *mongo.Client
	prefix    string
	databases map[string]*mongo.Database
	mu        sync.RWMutex
}

func NewTenantDBManager(client *mongo.Client, prefix string) *TenantDBManager {
	if prefix == "" {
		prefix = "vec"
	}
	return &TenantDBManager{
		client:    client,
		prefix:    prefix,
		databases: make(map[string]*mongo.Database),
	}
}

// DatabaseName maps a namespace to its database name.
func (m *TenantDBManager) DatabaseName(namespace string) string {
	return fmt.Sprintf("%s_%s", m.prefix, namespace)
}

// GetTenantDB returns the isolated database for namespace, creating its
// indexes on first use.
func (m *TenantDBManager) GetTenantDB(ctx context.Context, namespace string) (*mongo.Database, error) {
	m.mu.RLock()
	if db, exists := m.databases[namespace]; exists {
		m.mu.RUnlock()
		return db, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if db, exists := m.databases[namespace]; exists {
		return db, nil
	}

	db := m.client.Database(m.DatabaseName(namespace))
	if err := m.createTenantIndexes(ctx, db); err != nil {
		return nil, fmt.Errorf("create indexes for %s: %w", namespace, err)
	}

	m.databases[namespace] = db
	return db, nil
}

func (m *TenantDBManager) createTenantIndexes(ctx context.Context, db *mongo.Database) error {
	vectors := db.Collection(VectorsCollection)
	_, err := vectors.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "batch", Value: 1}}},
		{Keys: bson.D{{Key: "batch", Value: 1}}},
	})
	if err != nil {
		return err
	}

	commits := db.Collection(CommitsCollection)
	_, err = commits.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "batch", Value: 1}}},
	})
	return err
}

// DropTenantDB removes the namespace database and forgets the cached handle.
func (m *TenantDBManager) DropTenantDB(ctx context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.client.Database(m.DatabaseName(namespace)).Drop(ctx); err != nil {
		return err
	}
	delete(m.databases, namespace)
	return nil
}

// ListNamespaces returns every namespace that has a database under the
// manager's prefix, for orphan sweeps.
func (m *TenantDBManager) ListNamespaces(ctx context.Context) ([]string, error) {
	names, err := m.client.ListDatabaseNames(ctx, bson.M{"name": bson.M{"$regex": "^" + m.prefix + "_"}})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, strings.TrimPrefix(n, m.prefix+"_"))
	}
	return out, nil
}

func (m *TenantDBManager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}
