// Package primitives provides a registry of named synchronization primitives:
// exclusive and recursive locks, writer-preferring read-write locks, counting
// semaphores, condition variables and atomic counters.
//
// Every acquisition returns a Guard that must be released exactly once; Release
// is idempotent, so the usual pattern is
//
//	g, err := reg.AcquireLock(ctx, "db", time.Second)
//	if err != nil {
//		return err
//	}
//	defer g.Release()
//
// Each primitive records who holds it and since when. Snapshot exposes that
// bookkeeping for stall and deadlock heuristics.
package primitives

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-taskkit/errdefs"
)

// Kind identifies the type of a primitive.
type Kind int

const (
	KindMutex Kind = iota
	KindRecursiveMutex
	KindRWMutex
	KindSemaphore
	KindCond
	KindCounter
)

func (k Kind) String() string {
	switch k {
	case KindMutex:
		return "mutex"
	case KindRecursiveMutex:
		return "recursive_mutex"
	case KindRWMutex:
		return "rw_mutex"
	case KindSemaphore:
		return "semaphore"
	case KindCond:
		return "cond"
	case KindCounter:
		return "counter"
	default:
		return "unknown"
	}
}

// HoldMode describes how a hold was taken.
type HoldMode string

const (
	ModeExclusive HoldMode = "exclusive"
	ModeRead      HoldMode = "read"
	ModeWrite     HoldMode = "write"
	ModePermit    HoldMode = "permit"
)

// Hold is one outstanding acquisition.
type Hold struct {
	Owner Owner
	Mode  HoldMode
	Since time.Time
}

// PrimitiveState is an immutable snapshot of a primitive's bookkeeping.
type PrimitiveState struct {
	Name         string
	Kind         Kind
	CreatedAt    time.Time
	AcquireCount int64
	Holds        []Hold
	Waiters      int
	Permits      int64
	Depth        int
}

// OldestHold returns the hold with the earliest Since, if any.
func (s PrimitiveState) OldestHold() (Hold, bool) {
	if len(s.Holds) == 0 {
		return Hold{}, false
	}
	oldest := s.Holds[0]
	for _, h := range s.Holds[1:] {
		if h.Since.Before(oldest.Since) {
			oldest = h
		}
	}
	return oldest, true
}

// meta is the diagnostic bookkeeping embedded in every lockable primitive.
type meta struct {
	name      string
	kind      Kind
	createdAt time.Time
	now       func() time.Time

	acquires atomic.Int64

	holdMu   sync.Mutex
	holds    map[uint64]Hold
	nextHold uint64
}

func newMeta(name string, kind Kind, now func() time.Time) meta {
	return meta{
		name:      name,
		kind:      kind,
		createdAt: now(),
		now:       now,
		holds:     make(map[uint64]Hold),
	}
}

func (m *meta) Name() string { return m.name }

func (m *meta) Kind() Kind { return m.kind }

// AcquireCount returns the number of successful acquisitions so far.
func (m *meta) AcquireCount() int64 { return m.acquires.Load() }

func (m *meta) addHold(owner Owner, mode HoldMode) uint64 {
	m.acquires.Add(1)
	m.holdMu.Lock()
	defer m.holdMu.Unlock()
	m.nextHold++
	m.holds[m.nextHold] = Hold{Owner: owner, Mode: mode, Since: m.now()}
	return m.nextHold
}

func (m *meta) removeHold(id uint64) {
	m.holdMu.Lock()
	defer m.holdMu.Unlock()
	delete(m.holds, id)
}

func (m *meta) holdCount() int {
	m.holdMu.Lock()
	defer m.holdMu.Unlock()
	return len(m.holds)
}

func (m *meta) state() PrimitiveState {
	m.holdMu.Lock()
	holds := make([]Hold, 0, len(m.holds))
	for _, h := range m.holds {
		holds = append(holds, h)
	}
	m.holdMu.Unlock()

	sort.Slice(holds, func(i, j int) bool { return holds[i].Since.Before(holds[j].Since) })
	return PrimitiveState{
		Name:         m.name,
		Kind:         m.kind,
		CreatedAt:    m.createdAt,
		AcquireCount: m.acquires.Load(),
		Holds:        holds,
	}
}

// Guard represents one acquisition. Release is safe to call more than once.
type Guard struct {
	name  string
	owner Owner

	mu       sync.Mutex
	released bool
	release  func()
}

func newGuard(name string, owner Owner, release func()) *Guard {
	return &Guard{name: name, owner: owner, release: release}
}

// Name returns the name of the guarded primitive.
func (g *Guard) Name() string { return g.name }

// Owner returns the identity recorded for this acquisition.
func (g *Guard) Owner() Owner { return g.owner }

// Release gives the acquisition back. Only the first call has an effect.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return
	}
	g.released = true
	release := g.release
	g.release = nil
	g.mu.Unlock()

	if release != nil {
		release()
	}
}

// Released reports whether Release has been called.
func (g *Guard) Released() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}

// rearm makes a released guard own a fresh acquisition (used by Cond.Wait).
func (g *Guard) rearm(release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = false
	g.release = release
}

// take transfers the pending release out of g, leaving g released.
func (g *Guard) take() func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = true
	release := g.release
	g.release = nil
	return release
}

// notifier is a broadcast channel; callers must hold the owning mutex.
type notifier struct {
	ch chan struct{}
}

func newNotifier() notifier {
	return notifier{ch: make(chan struct{})}
}

func (n *notifier) wait() <-chan struct{} { return n.ch }

func (n *notifier) broadcast() {
	close(n.ch)
	n.ch = make(chan struct{})
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return ctx, func() {}
}

// acquireError maps a finished context to the taxonomy: deadline → timeout,
// anything else → cancelled.
func acquireError(ctx context.Context, op, name string, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errdefs.NewTimeoutError(op, name, timeout)
	}
	return fmt.Errorf("%s %q: %w", op, name, errdefs.ErrCancelled)
}
