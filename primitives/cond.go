package primitives

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Swind/go-taskkit/errdefs"
)

// Cond is a condition variable bound to one registry Mutex.
type Cond struct {
	meta
	lock *Mutex

	mu      sync.Mutex
	waiters []chan struct{}
}

func newCond(name string, lock *Mutex, now func() time.Time) *Cond {
	return &Cond{
		meta: newMeta(name, KindCond, now),
		lock: lock,
	}
}

// LockName returns the name of the associated mutex.
func (c *Cond) LockName() string { return c.lock.Name() }

// Wait atomically releases g, which must guard the associated mutex, and
// suspends until Signal or Broadcast wakes it or ctx/timeout ends. The mutex
// is re-acquired before Wait returns, whatever the outcome, and g owns it
// again.
func (c *Cond) Wait(ctx context.Context, g *Guard, timeout time.Duration) error {
	if g == nil || g.Name() != c.lock.Name() {
		return errdefs.InvalidArgument("cond %q must be waited on with a guard of %q", c.name, c.lock.Name())
	}
	if g.Released() {
		return fmt.Errorf("cond %q: %w", c.name, errdefs.ErrPrimitiveReleased)
	}

	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()
	c.acquires.Add(1)

	g.Release()

	waitCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	var waitErr error
	select {
	case <-ch:
	case <-waitCtx.Done():
		if c.dequeue(ch) {
			waitErr = acquireError(waitCtx, "wait on cond", c.name, timeout)
		}
		// otherwise a signal raced the deadline and was delivered to us
	}

	relock, err := c.lock.Acquire(context.WithoutCancel(ctx), 0)
	if err != nil {
		return err
	}
	g.rearm(relock.take())
	return waitErr
}

// Signal wakes one waiter, if any.
func (c *Cond) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) == 0 {
		return
	}
	ch := c.waiters[0]
	c.waiters = c.waiters[1:]
	ch <- struct{}{}
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.waiters {
		ch <- struct{}{}
	}
	c.waiters = nil
}

// Waiters returns the number of goroutines blocked in Wait.
func (c *Cond) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Cond) dequeue(ch chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Cond) holdCount() int { return c.Waiters() }

func (c *Cond) snapshot() PrimitiveState {
	st := c.state()
	st.Waiters = c.Waiters()
	return st
}
