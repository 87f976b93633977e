package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// deadlineEntry is a callback scheduled for a point in time
type deadlineEntry struct {
	at    time.Time
	fire  func()
	index int // for heap interface
}

// deadlineHeap implements heap.Interface
type deadlineHeap []*deadlineEntry

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	n := len(*h)
	item := x.(*deadlineEntry)
	item.index = n
	*h = append(*h, item)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *deadlineHeap) Peek() *deadlineEntry {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// deadlineManager fires task timeouts and cancellation grace periods from a
// single goroutine, however many tasks are running.
type deadlineManager struct {
	pq     deadlineHeap
	mu     sync.Mutex
	wakeup chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func newDeadlineManager() *deadlineManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &deadlineManager{
		pq:     make(deadlineHeap, 0),
		wakeup: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	heap.Init(&dm.pq)
	go dm.loop()
	return dm
}

// schedule arranges for fire to run after d. fire runs on the manager's
// goroutine and must not block.
func (dm *deadlineManager) schedule(d time.Duration, fire func()) *deadlineEntry {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := &deadlineEntry{at: time.Now().Add(d), fire: fire}
	heap.Push(&dm.pq, item)

	if item.index == 0 {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
	return item
}

// stop removes e if it has not fired yet.
func (dm *deadlineManager) stop(e *deadlineEntry) bool {
	if e == nil {
		return false
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if e.index < 0 || e.index >= len(dm.pq) || dm.pq[e.index] != e {
		return false
	}
	heap.Remove(&dm.pq, e.index)
	return true
}

func (dm *deadlineManager) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		next, ok := dm.nextIn()
		if !ok {
			// Nothing scheduled, wait for a wakeup
			next = 1000 * time.Hour
		}
		timer.Reset(next)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.fireExpired()
		case <-dm.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// nextIn returns how long until the earliest entry is due.
func (dm *deadlineManager) nextIn() (time.Duration, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.Peek()
	if item == nil {
		return 0, false
	}
	d := time.Until(item.at)
	if d < 0 {
		d = 0
	}
	return d, true
}

func (dm *deadlineManager) fireExpired() {
	dm.mu.Lock()
	now := time.Now()
	var expired []*deadlineEntry
	for dm.pq.Len() > 0 {
		item := dm.pq.Peek()
		if item.at.After(now) {
			break
		}
		heap.Pop(&dm.pq)
		expired = append(expired, item)
	}
	dm.mu.Unlock()

	// Fire outside the lock
	for _, item := range expired {
		item.fire()
	}
}

func (dm *deadlineManager) close() {
	dm.cancel()

	dm.mu.Lock()
	dm.pq = make(deadlineHeap, 0)
	dm.mu.Unlock()
}

func (dm *deadlineManager) len() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
