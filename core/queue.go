package core

import "container/heap"

const defaultQueueCap = 16

// =============================================================================
// readyHeap: ready tasks of one queue, highest priority first, FIFO within a
// priority (by submission sequence)
// =============================================================================

type readyHeap []*Task

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *readyHeap) Push(x any) {
	t := x.(*Task)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil // avoid memory leak
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// readyQueue wraps readyHeap with the operations the scheduler needs. It is
// not locked; the scheduler lock guards it.
type readyQueue struct {
	h readyHeap
}

func newReadyQueue() readyQueue {
	return readyQueue{h: make(readyHeap, 0, defaultQueueCap)}
}

func (q *readyQueue) push(t *Task) { heap.Push(&q.h, t) }

func (q *readyQueue) pop() (*Task, bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	return heap.Pop(&q.h).(*Task), true
}

func (q *readyQueue) contains(t *Task) bool {
	return t.heapIndex >= 0 && t.heapIndex < len(q.h) && q.h[t.heapIndex] == t
}

func (q *readyQueue) remove(t *Task) bool {
	if !q.contains(t) {
		return false
	}
	heap.Remove(&q.h, t.heapIndex)
	return true
}

// fix restores ordering after t's priority changed.
func (q *readyQueue) fix(t *Task) {
	if q.contains(t) {
		heap.Fix(&q.h, t.heapIndex)
	}
}

func (q *readyQueue) len() int { return len(q.h) }

// drain removes every task, in no particular order.
func (q *readyQueue) drain() []*Task {
	out := make([]*Task, len(q.h))
	for i, t := range q.h {
		t.heapIndex = -1
		out[i] = t
	}
	q.h = make(readyHeap, 0, defaultQueueCap)
	return out
}
