package primitives

import (
	"context"
	"sync"
	"time"
)

// RWMutex admits many readers or one writer. A waiting writer blocks new
// readers so writers cannot starve.
type RWMutex struct {
	meta

	mu             sync.Mutex
	readers        int
	writer         bool
	waitingWriters int
	n              notifier
}

func newRWMutex(name string, now func() time.Time) *RWMutex {
	return &RWMutex{
		meta: newMeta(name, KindRWMutex, now),
		n:    newNotifier(),
	}
}

// AcquireRead takes a shared hold.
func (m *RWMutex) AcquireRead(ctx context.Context, timeout time.Duration) (*Guard, error) {
	waitCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	owner := ownerOrAnonymous(ctx)
	for {
		m.mu.Lock()
		if !m.writer && m.waitingWriters == 0 {
			m.readers++
			id := m.addHold(owner, ModeRead)
			m.mu.Unlock()
			return newGuard(m.name, owner, func() { m.releaseRead(id) }), nil
		}
		ch := m.n.wait()
		m.mu.Unlock()

		select {
		case <-ch:
		case <-waitCtx.Done():
			return nil, acquireError(waitCtx, "acquire read lock", m.name, timeout)
		}
	}
}

// AcquireWrite takes the exclusive hold.
func (m *RWMutex) AcquireWrite(ctx context.Context, timeout time.Duration) (*Guard, error) {
	waitCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	owner := ownerOrAnonymous(ctx)
	m.mu.Lock()
	m.waitingWriters++
	for {
		if !m.writer && m.readers == 0 {
			m.waitingWriters--
			m.writer = true
			id := m.addHold(owner, ModeWrite)
			m.mu.Unlock()
			return newGuard(m.name, owner, func() { m.releaseWrite(id) }), nil
		}
		ch := m.n.wait()
		m.mu.Unlock()

		select {
		case <-ch:
			m.mu.Lock()
		case <-waitCtx.Done():
			m.mu.Lock()
			m.waitingWriters--
			// readers parked behind this writer may proceed now
			m.n.broadcast()
			m.mu.Unlock()
			return nil, acquireError(waitCtx, "acquire write lock", m.name, timeout)
		}
	}
}

// Readers returns the number of current read holders.
func (m *RWMutex) Readers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readers
}

// WriteLocked reports whether a writer holds the lock.
func (m *RWMutex) WriteLocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writer
}

func (m *RWMutex) releaseRead(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readers--
	m.removeHold(id)
	if m.readers == 0 {
		m.n.broadcast()
	}
}

func (m *RWMutex) releaseWrite(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writer = false
	m.removeHold(id)
	m.n.broadcast()
}

func (m *RWMutex) snapshot() PrimitiveState {
	st := m.state()
	m.mu.Lock()
	st.Waiters = m.waitingWriters
	m.mu.Unlock()
	return st
}
