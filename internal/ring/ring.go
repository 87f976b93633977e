// Package ring provides a fixed-capacity, mutex-guarded ring buffer.
// When full, the oldest entry is overwritten.
package ring

import "sync"

const defaultCapacity = 100

type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	count int
}

func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = defaultCapacity
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

func (b *Buffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % len(b.items)
	if b.count < len(b.items) {
		b.count++
	}
}

// Recent returns up to limit entries, newest first. limit <= 0 means all.
func (b *Buffer[T]) Recent(limit int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	if limit <= 0 || limit > b.count {
		limit = b.count
	}

	out := make([]T, 0, limit)
	for i := range limit {
		idx := (b.head - 1 - i + len(b.items)) % len(b.items)
		out = append(out, b.items[idx])
	}
	return out
}

// Ordered returns every retained entry, oldest first.
func (b *Buffer[T]) Ordered() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, 0, b.count)
	start := (b.head - b.count + len(b.items)) % len(b.items)
	for i := range b.count {
		out = append(out, b.items[(start+i)%len(b.items)])
	}
	return out
}

func (b *Buffer[T]) Last() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.count == 0 {
		return zero, false
	}
	idx := (b.head - 1 + len(b.items)) % len(b.items)
	return b.items[idx], true
}

func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Buffer[T]) Cap() int {
	return len(b.items)
}
