package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "lock:document:"

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// DocumentLocker serializes processing of one document. The local map covers
// goroutines of this process; Redis, when configured, covers other workers.
type DocumentLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
	rdb  *redis.Client
	ttl  time.Duration
}

func NewDocumentLocker(rdb *redis.Client, ttl time.Duration) *DocumentLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &DocumentLocker{held: make(map[string]struct{}), rdb: rdb, ttl: ttl}
}

// TryLock returns ok=false when another holder has the document.
func (l *DocumentLocker) TryLock(ctx context.Context, documentID string) (release func(), ok bool, err error) {
	l.mu.Lock()
	if _, busy := l.held[documentID]; busy {
		l.mu.Unlock()
		return nil, false, nil
	}
	l.held[documentID] = struct{}{}
	l.mu.Unlock()

	releaseLocal := func() {
		l.mu.Lock()
		delete(l.held, documentID)
		l.mu.Unlock()
	}
	if l.rdb == nil {
		return releaseLocal, true, nil
	}

	token := uuid.NewString()
	key := lockPrefix + documentID
	acquired, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil || !acquired {
		releaseLocal()
		return nil, false, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		unlockScript.Run(ctx, l.rdb, []string{key}, token)
		releaseLocal()
	}, true, nil
}
