package primitives

import (
	"sync/atomic"
	"time"
)

// Counter is a named 64-bit signed atomic counter.
type Counter struct {
	meta
	v atomic.Int64
}

func newCounter(name string, now func() time.Time) *Counter {
	return &Counter{meta: newMeta(name, KindCounter, now)}
}

// Increment adds one and returns the new value.
func (c *Counter) Increment() int64 { return c.v.Add(1) }

// Decrement subtracts one and returns the new value.
func (c *Counter) Decrement() int64 { return c.v.Add(-1) }

func (c *Counter) Read() int64 { return c.v.Load() }

func (c *Counter) snapshot() PrimitiveState { return c.state() }
