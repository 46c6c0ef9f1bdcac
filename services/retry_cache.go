package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"financerag/models"

	"github.com/redis/go-redis/v9"
)

const retryKeyPrefix = "retry:"

// RetryEntry is a retrieval whose synthesis failed, kept so the answer can
// be retried without querying the index again.
type RetryEntry struct {
	Query  models.Query            `json:"query"`
	Chunks []models.RetrievedChunk `json:"chunks"`
	Tables []models.Table          `json:"tables"`
}

// RetryCache stores RetryEntry values for a limited time. Get returns
// ErrRetryNotFound for unknown or expired ids.
type RetryCache interface {
	Put(ctx context.Context, id string, e *RetryEntry) error
	Get(ctx context.Context, id string) (*RetryEntry, error)
	Delete(ctx context.Context, id string) error
}

// RedisRetryCache shares retry entries between API instances.
type RedisRetryCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRetryCache(rdb *redis.Client, ttl time.Duration) *RedisRetryCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisRetryCache{rdb: rdb, ttl: ttl}
}

func (c *RedisRetryCache) Put(ctx context.Context, id string, e *RetryEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, retryKeyPrefix+id, data, c.ttl).Err()
}

func (c *RedisRetryCache) Get(ctx context.Context, id string) (*RetryEntry, error) {
	data, err := c.rdb.Get(ctx, retryKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrRetryNotFound
	}
	if err != nil {
		return nil, err
	}
	var e RetryEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *RedisRetryCache) Delete(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, retryKeyPrefix+id).Err()
}

// MemoryRetryCache is the single-process variant.
type MemoryRetryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryRetryEntry
	now     func() time.Time
}

type memoryRetryEntry struct {
	entry   RetryEntry
	expires time.Time
}

func NewMemoryRetryCache(ttl time.Duration) *MemoryRetryCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MemoryRetryCache{ttl: ttl, entries: make(map[string]memoryRetryEntry), now: time.Now}
}

func (c *MemoryRetryCache) Put(_ context.Context, id string, e *RetryEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, v := range c.entries {
		if now.After(v.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[id] = memoryRetryEntry{entry: *e, expires: now.Add(c.ttl)}
	return nil
}

func (c *MemoryRetryCache) Get(_ context.Context, id string) (*RetryEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[id]
	if !ok || c.now().After(v.expires) {
		delete(c.entries, id)
		return nil, models.ErrRetryNotFound
	}
	e := v.entry
	return &e, nil
}

func (c *MemoryRetryCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	return nil
}
