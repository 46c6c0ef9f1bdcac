package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"financerag/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedIngester struct {
	mu      sync.Mutex
	calls   map[string]int
	results []error
	block   chan struct{}
	started chan string
}

func (s *scriptedIngester) Process(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	n := s.calls[id]
	s.calls[id]++
	block := s.block
	s.mu.Unlock()

	if s.started != nil {
		s.started <- id
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n < len(s.results) {
		return s.results[n]
	}
	return nil
}

func (s *scriptedIngester) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

type countingReembedder struct{ calls atomic.Int32 }

func (c *countingReembedder) Reembed(context.Context, string, string) error {
	c.calls.Add(1)
	return nil
}

func TestWorkerPoolRunsJobs(t *testing.T) {
	ing := &scriptedIngester{}
	re := &countingReembedder{}
	pool := NewWorkerPool(2, 8, time.Second)
	pool.Start(ing, re)
	defer pool.Stop()
	ctx := context.Background()

	require.NoError(t, pool.DispatchIngest(ctx, &models.Document{ID: "d1"}))
	require.NoError(t, pool.DispatchReembed(ctx, "c1", "hash:m"))

	require.Eventually(t, func() bool { return ing.count("d1") == 1 && re.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWorkerPoolRetriesTransientFailures(t *testing.T) {
	ing := &scriptedIngester{results: []error{
		models.Transient("embed", errors.New("rate limited")),
		nil,
	}}
	pool := NewWorkerPool(1, 8, time.Second)
	pool.retryDelay = time.Millisecond
	pool.Start(ing, nil)
	defer pool.Stop()

	require.NoError(t, pool.DispatchIngest(context.Background(), &models.Document{ID: "d1"}))
	require.Eventually(t, func() bool { return ing.count("d1") == 2 }, time.Second, 5*time.Millisecond)
}

func TestWorkerPoolDoesNotRetryTerminalFailures(t *testing.T) {
	ing := &scriptedIngester{results: []error{errors.New("bad pdf")}}
	pool := NewWorkerPool(1, 8, time.Second)
	pool.retryDelay = time.Millisecond
	pool.Start(ing, nil)
	defer pool.Stop()

	require.NoError(t, pool.DispatchIngest(context.Background(), &models.Document{ID: "d1"}))
	require.Eventually(t, func() bool { return ing.count("d1") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, ing.count("d1"))
}

func TestWorkerPoolCancelsRunningJob(t *testing.T) {
	ing := &scriptedIngester{block: make(chan struct{}), started: make(chan string, 1)}
	pool := NewWorkerPool(1, 8, 0)
	pool.Start(ing, nil)
	defer pool.Stop()

	require.NoError(t, pool.DispatchIngest(context.Background(), &models.Document{ID: "d1"}))
	select {
	case <-ing.started:
	case <-time.After(time.Second):
		t.Fatal("job did not start")
	}
	require.NoError(t, pool.CancelIngest(context.Background(), "d1"))

	require.Eventually(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.running) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPoolQueueFullIsTransient(t *testing.T) {
	pool := NewWorkerPool(1, 1, 0)
	ctx := context.Background()

	require.NoError(t, pool.DispatchIngest(ctx, &models.Document{ID: "d1"}))
	// duplicates collapse onto the queued job
	require.NoError(t, pool.DispatchIngest(ctx, &models.Document{ID: "d1"}))

	err := pool.DispatchIngest(ctx, &models.Document{ID: "d2"})
	assert.True(t, models.IsTransient(err))
}

func TestWorkerPoolRejectsAfterStop(t *testing.T) {
	pool := NewWorkerPool(1, 1, 0)
	pool.Start(&scriptedIngester{}, nil)
	pool.Stop()
	pool.Stop()

	assert.ErrorIs(t, pool.DispatchIngest(context.Background(), &models.Document{ID: "d1"}), errPoolStopped)
}
