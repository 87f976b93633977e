// Package archive persists task execution records beyond the per-queue
// in-memory history.
package archive

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/errdefs"
)

// Filter selects records. Zero fields match everything.
type Filter struct {
	Queue  string
	Name   string
	States []core.TaskState
	Since  time.Time // FinishedAt at or after
	Limit  int
	Offset int
}

func (f Filter) match(r core.TaskExecutionRecord) bool {
	if f.Queue != "" && r.Queue != f.Queue {
		return false
	}
	if f.Name != "" && r.Name != f.Name {
		return false
	}
	if len(f.States) > 0 && !slices.Contains(f.States, r.State) {
		return false
	}
	if !f.Since.IsZero() && r.FinishedAt.Before(f.Since) {
		return false
	}
	return true
}

// Store persists execution records. Task ids restart with every process,
// so a store may hold several records for the same id; Get returns the
// newest one.
type Store interface {
	Append(ctx context.Context, rec core.TaskExecutionRecord) error
	// List returns matching records, newest first.
	List(ctx context.Context, f Filter) ([]core.TaskExecutionRecord, error)
	Get(ctx context.Context, id core.TaskID) (core.TaskExecutionRecord, error)
	// Prune deletes records that finished before the cut-off and returns
	// how many were removed.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records []core.TaskExecutionRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, rec core.TaskExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]core.TaskExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.TaskExecutionRecord
	skipped := 0
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if !f.match(r) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id core.TaskID) (core.TaskExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].TaskID == id {
			return s.records[i], nil
		}
	}
	return core.TaskExecutionRecord{}, errdefs.NewNotFoundError("execution record", id.String())
}

func (s *MemoryStore) Prune(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.records)
	s.records = slices.DeleteFunc(s.records, func(r core.TaskExecutionRecord) bool {
		return r.FinishedAt.Before(before)
	})
	return n - len(s.records), nil
}

func (s *MemoryStore) Close() error { return nil }
