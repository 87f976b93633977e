package archive

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Swind/go-taskkit/core"
)

const defaultBuffer = 256

// Recorder is a core.Metrics that archives every execution record. Writes
// happen on a background goroutine so task completion never waits on the
// store; records that do not fit in the buffer are dropped and counted.
type Recorder struct {
	core.NilMetrics

	store  Store
	logger core.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan core.TaskExecutionRecord
	done   chan struct{}

	written atomic.Int64
	dropped atomic.Int64
}

var _ core.Metrics = (*Recorder)(nil)

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Buffer int
	Logger core.Logger
}

// NewRecorder starts a recorder writing to store.
func NewRecorder(store Store, opts RecorderOptions) *Recorder {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = core.NewDefaultLogger("archive")
	}
	r := &Recorder{
		store:  store,
		logger: opts.Logger,
		queue:  make(chan core.TaskExecutionRecord, opts.Buffer),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) RecordTaskExecution(rec core.TaskExecutionRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for rec := range r.queue {
		if err := r.store.Append(context.Background(), rec); err != nil {
			r.logger.Error("failed to archive execution", core.F("task", rec.TaskID.String()), core.F("error", err))
			continue
		}
		r.written.Add(1)
	}
}

// Written returns how many records reached the store.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Dropped returns how many records were discarded.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Close stops accepting records and waits until the buffer is flushed or
// ctx ends. It does not close the store.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
