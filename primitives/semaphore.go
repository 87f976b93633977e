package primitives

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Semaphore is a counting semaphore; at most Permits holders at a time.
type Semaphore struct {
	meta
	permits int64
	w       *semaphore.Weighted
	inUse   atomic.Int64
}

func newSemaphore(name string, permits int64, now func() time.Time) *Semaphore {
	return &Semaphore{
		meta:    newMeta(name, KindSemaphore, now),
		permits: permits,
		w:       semaphore.NewWeighted(permits),
	}
}

// Acquire takes one permit, blocking while none are available.
func (s *Semaphore) Acquire(ctx context.Context, timeout time.Duration) (*Guard, error) {
	waitCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	if err := s.w.Acquire(waitCtx, 1); err != nil {
		return nil, acquireError(waitCtx, "acquire semaphore", s.name, timeout)
	}
	return s.grant(ctx), nil
}

// TryAcquire takes a permit only if one is free.
func (s *Semaphore) TryAcquire(ctx context.Context) (*Guard, bool) {
	if !s.w.TryAcquire(1) {
		return nil, false
	}
	return s.grant(ctx), true
}

// Permits returns the configured number of permits.
func (s *Semaphore) Permits() int64 { return s.permits }

// InUse returns the number of permits currently held.
func (s *Semaphore) InUse() int64 { return s.inUse.Load() }

// Available returns the number of free permits.
func (s *Semaphore) Available() int64 { return s.permits - s.inUse.Load() }

func (s *Semaphore) grant(ctx context.Context) *Guard {
	owner := ownerOrAnonymous(ctx)
	s.inUse.Add(1)
	id := s.addHold(owner, ModePermit)
	return newGuard(s.name, owner, func() {
		s.removeHold(id)
		s.inUse.Add(-1)
		s.w.Release(1)
	})
}

func (s *Semaphore) snapshot() PrimitiveState {
	st := s.state()
	st.Permits = s.permits
	return st
}
