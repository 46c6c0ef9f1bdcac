package services

import (
	"context"
	"sync"

	"financerag/models"
)

// CompanyFence tracks the ingestion jobs running for each company in this
// process. Closing a company's fence cancels its jobs and refuses new ones
// until it is reopened.
type CompanyFence struct {
	mu      sync.Mutex
	entries map[string]*fenceEntry
	nextID  uint64
}

type fenceEntry struct {
	jobs   map[uint64]context.CancelFunc
	closed bool
	idle   chan struct{}
}

func NewCompanyFence() *CompanyFence {
	return &CompanyFence{entries: make(map[string]*fenceEntry)}
}

func (f *CompanyFence) entry(companyID string) *fenceEntry {
	e, ok := f.entries[companyID]
	if !ok {
		e = &fenceEntry{jobs: make(map[uint64]context.CancelFunc)}
		f.entries[companyID] = e
	}
	return e
}

// Enter registers a job. The returned context is cancelled when the fence
// closes; leave must be called when the job ends.
func (f *CompanyFence) Enter(ctx context.Context, companyID string) (context.Context, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := f.entry(companyID)
	if e.closed {
		return nil, nil, models.ErrCompanyDeleting
	}
	jobCtx, cancel := context.WithCancel(ctx)
	f.nextID++
	id := f.nextID
	e.jobs[id] = cancel

	var once sync.Once
	leave := func() {
		once.Do(func() {
			cancel()
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(e.jobs, id)
			if len(e.jobs) == 0 && e.idle != nil {
				close(e.idle)
				e.idle = nil
			}
		})
	}
	return jobCtx, leave, nil
}

// Close refuses new jobs and cancels the running ones.
func (f *CompanyFence) Close(companyID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.entry(companyID)
	e.closed = true
	for _, cancel := range e.jobs {
		cancel()
	}
}

// Wait blocks until no job of the company is running or ctx ends.
func (f *CompanyFence) Wait(ctx context.Context, companyID string) error {
	f.mu.Lock()
	e := f.entry(companyID)
	if len(e.jobs) == 0 {
		f.mu.Unlock()
		return nil
	}
	if e.idle == nil {
		e.idle = make(chan struct{})
	}
	idle := e.idle
	f.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of running jobs.
func (f *CompanyFence) Active(companyID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[companyID]; ok {
		return len(e.jobs)
	}
	return 0
}

// Reopen accepts jobs again after a Close.
func (f *CompanyFence) Reopen(companyID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[companyID]; ok {
		e.closed = false
		if len(e.jobs) == 0 {
			delete(f.entries, companyID)
		}
	}
}
