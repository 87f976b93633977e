package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Swind/go-taskkit/core"
)

// recordingMetrics captures every Metrics callback for assertions
type recordingMetrics struct {
	mu       sync.Mutex
	records  []core.TaskExecutionRecord
	panics   int
	rejected []string
	events   []core.QueueEvent
}

func (m *recordingMetrics) RecordTaskExecution(r core.TaskExecutionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

func (m *recordingMetrics) RecordTaskPanic(queue string, panicInfo any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics++
}

func (m *recordingMetrics) RecordQueueDepth(queue string, depth int) {}

func (m *recordingMetrics) RecordTaskRejected(queue string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, reason)
}

func (m *recordingMetrics) RecordQueueEvent(queue string, event core.QueueEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *recordingMetrics) executions() []core.TaskExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.TaskExecutionRecord(nil), m.records...)
}

type silentRejections struct{}

func (silentRejections) HandleRejectedTask(string, *core.Task, string) {}

func newTestScheduler(t *testing.T, mutate ...func(*core.Config)) (*core.Scheduler, *recordingMetrics) {
	t.Helper()
	metrics := &recordingMetrics{}
	cfg := &core.Config{
		Logger:              core.NewNoOpLogger(),
		Metrics:             metrics,
		RejectedTaskHandler: silentRejections{},
		CancelGracePeriod:   time.Second,
	}
	for _, m := range mutate {
		m(cfg)
	}
	s := core.NewScheduler(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, metrics
}

func mustQueue(t *testing.T, s *core.Scheduler, name string, kind core.QueueKind, maxConcurrency int) *core.QueueHandle {
	t.Helper()
	q, err := s.CreateQueue(name, kind, core.QoSDefault, maxConcurrency)
	if err != nil {
		t.Fatalf("CreateQueue(%q) error = %v", name, err)
	}
	return q
}

func mustSubmit(t *testing.T, s *core.Scheduler, task *core.Task, queue string) *core.Task {
	t.Helper()
	h, err := s.Submit(task, queue)
	if err != nil {
		t.Fatalf("Submit(%s, %q) error = %v", task, queue, err)
	}
	return h
}

func waitTask(t *testing.T, task *core.Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not finish, state %v", task, task.State())
	}
}

// blocker returns a task body that blocks until release is closed or its
// context ends.
func blocker(release <-chan struct{}) core.TaskFunc {
	return func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func noop(ctx context.Context) error { return nil }

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
