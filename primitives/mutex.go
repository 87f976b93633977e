package primitives

import (
	"context"
	"time"
)

// Mutex is an exclusive lock whose acquisition can time out.
type Mutex struct {
	meta
	sem chan struct{}
}

func newMutex(name string, now func() time.Time) *Mutex {
	return &Mutex{
		meta: newMeta(name, KindMutex, now),
		sem:  make(chan struct{}, 1),
	}
}

// Acquire blocks until the lock is free, ctx is done, or timeout elapses.
// A zero timeout waits only on ctx.
func (m *Mutex) Acquire(ctx context.Context, timeout time.Duration) (*Guard, error) {
	select {
	case m.sem <- struct{}{}:
		return m.grant(ctx), nil
	default:
	}

	waitCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	select {
	case m.sem <- struct{}{}:
		return m.grant(ctx), nil
	case <-waitCtx.Done():
		return nil, acquireError(waitCtx, "acquire lock", m.name, timeout)
	}
}

// TryAcquire takes the lock only if it is free.
func (m *Mutex) TryAcquire(ctx context.Context) (*Guard, bool) {
	select {
	case m.sem <- struct{}{}:
		return m.grant(ctx), true
	default:
		return nil, false
	}
}

// Locked reports whether the lock is currently held.
func (m *Mutex) Locked() bool {
	return len(m.sem) == 1
}

func (m *Mutex) grant(ctx context.Context) *Guard {
	owner := ownerOrAnonymous(ctx)
	id := m.addHold(owner, ModeExclusive)
	return newGuard(m.name, owner, func() {
		m.removeHold(id)
		<-m.sem
	})
}

func (m *Mutex) snapshot() PrimitiveState {
	return m.state()
}
