package primitives

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-taskkit/errdefs"
)

// RecursiveMutex may be re-acquired by the Owner that already holds it.
// Each acquisition returns its own Guard; the lock is freed when the depth
// drops back to zero.
type RecursiveMutex struct {
	meta

	mu     sync.Mutex
	holder Owner
	depth  int
	holdID uint64
	n      notifier
}

func newRecursiveMutex(name string, now func() time.Time) *RecursiveMutex {
	return &RecursiveMutex{
		meta: newMeta(name, KindRecursiveMutex, now),
		n:    newNotifier(),
	}
}

// Acquire requires an owner in ctx (see WithOwner).
func (m *RecursiveMutex) Acquire(ctx context.Context, timeout time.Duration) (*Guard, error) {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		return nil, errdefs.InvalidArgument("recursive lock %q requires an owner in context", m.name)
	}

	waitCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	for {
		m.mu.Lock()
		switch {
		case m.depth == 0:
			m.holder = owner
			m.depth = 1
			m.holdID = m.addHold(owner, ModeExclusive)
			m.mu.Unlock()
			return m.guard(owner), nil
		case m.holder == owner:
			m.depth++
			m.acquires.Add(1)
			m.mu.Unlock()
			return m.guard(owner), nil
		}
		ch := m.n.wait()
		m.mu.Unlock()

		select {
		case <-ch:
		case <-waitCtx.Done():
			return nil, acquireError(waitCtx, "acquire recursive lock", m.name, timeout)
		}
	}
}

// Depth returns the current re-entry depth (0 when free).
func (m *RecursiveMutex) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth
}

func (m *RecursiveMutex) guard(owner Owner) *Guard {
	return newGuard(m.name, owner, m.release)
}

func (m *RecursiveMutex) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 {
		return
	}
	m.depth--
	if m.depth == 0 {
		m.removeHold(m.holdID)
		m.holder = ""
		m.holdID = 0
		m.n.broadcast()
	}
}

func (m *RecursiveMutex) snapshot() PrimitiveState {
	st := m.state()
	st.Depth = m.Depth()
	return st
}
