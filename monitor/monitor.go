// Package monitor samples scheduler and process health on a fixed interval
// and keeps per-task-name latency statistics.
//
// A Monitor implements core.Metrics, so it can be plugged straight into
// core.Config (directly or through core.MultiMetrics) to receive one call per
// finished task execution.
package monitor

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/internal/ring"
)

const (
	DefaultInterval              = 2 * time.Second
	DefaultCapacity              = 100
	DefaultSlowTaskThreshold     = 500 * time.Millisecond
	DefaultMemoryGrowthThreshold = 0.5

	ewmaAlpha = 0.2
)

// Source is what the monitor samples. *core.Scheduler satisfies it.
type Source interface {
	ListQueues() []core.QueueStatus
	ActiveWorkers() int
}

// Options configures a Monitor. Zero values fall back to the defaults.
type Options struct {
	Interval              time.Duration
	Capacity              int
	SlowTaskThreshold     time.Duration
	MemoryGrowthThreshold float64
	Logger                core.Logger

	// MemoryReader returns the resident memory in bytes. Defaults to
	// ResidentMemory.
	MemoryReader func() uint64
	Clock        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.SlowTaskThreshold <= 0 {
		o.SlowTaskThreshold = DefaultSlowTaskThreshold
	}
	if o.MemoryGrowthThreshold <= 0 {
		o.MemoryGrowthThreshold = DefaultMemoryGrowthThreshold
	}
	if o.Logger == nil {
		o.Logger = core.NewDefaultLogger("monitor")
	}
	if o.MemoryReader == nil {
		o.MemoryReader = ResidentMemory
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// QueueMetrics is the per-queue part of a Snapshot.
type QueueMetrics struct {
	Name           string
	QoS            core.QoS
	Depth          int
	Running        int
	MaxConcurrency int
	Completed      int64
	Failed         int64
}

// Snapshot is one immutable sample.
type Snapshot struct {
	Timestamp      time.Time
	ResidentMemory uint64
	Goroutines     int
	ActiveWorkers  int
	Queues         []QueueMetrics
}

// Monitor periodically samples a Source and aggregates task latencies.
type Monitor struct {
	srcMu  sync.RWMutex
	src    Source
	opts   Options
	logger core.Logger

	snapshots *ring.Buffer[Snapshot]
	interval  atomic.Int64
	slowTask  atomic.Int64
	reset     chan struct{}

	statsMu sync.Mutex
	stats   map[string]*TaskStats
	events  map[core.QueueEvent]int64
	depths  map[string]int

	panics   atomic.Int64
	rejected atomic.Int64

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ core.Metrics = (*Monitor)(nil)

// New creates a monitor over src. src may be nil, in which case only process
// level figures are sampled.
func New(src Source, opts Options) *Monitor {
	opts = opts.withDefaults()
	m := &Monitor{
		src:       src,
		opts:      opts,
		logger:    opts.Logger,
		snapshots: ring.New[Snapshot](opts.Capacity),
		reset:     make(chan struct{}, 1),
		stats:     make(map[string]*TaskStats),
		events:    make(map[core.QueueEvent]int64),
		depths:    make(map[string]int),
	}
	m.interval.Store(int64(opts.Interval))
	m.slowTask.Store(int64(opts.SlowTaskThreshold))
	return m
}

// SetSource replaces the sampled source. It lets a monitor be created before
// the scheduler whose Config it is plugged into.
func (m *Monitor) SetSource(src Source) {
	m.srcMu.Lock()
	defer m.srcMu.Unlock()
	m.src = src
}

func (m *Monitor) source() Source {
	m.srcMu.RLock()
	defer m.srcMu.RUnlock()
	return m.src
}

// Interval returns the current sampling interval.
func (m *Monitor) Interval() time.Duration { return time.Duration(m.interval.Load()) }

// SetInterval changes the sampling interval; a running loop picks it up on
// its next tick.
func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	if time.Duration(m.interval.Swap(int64(d))) == d {
		return
	}
	select {
	case m.reset <- struct{}{}:
	default:
	}
	m.logger.Debug("monitor interval changed", core.F("interval", d))
}

// SlowTaskThreshold returns the mean duration above which a task name is
// reported as a bottleneck.
func (m *Monitor) SlowTaskThreshold() time.Duration { return time.Duration(m.slowTask.Load()) }

// SetSlowTaskThreshold changes the slow task threshold. Non-positive values
// are ignored.
func (m *Monitor) SetSlowTaskThreshold(d time.Duration) {
	if d > 0 {
		m.slowTask.Store(int64(d))
	}
}

// Start begins periodic sampling; repeated calls are no-ops.
func (m *Monitor) Start(ctx context.Context) {
	m.stateMu.Lock()
	if m.running {
		m.stateMu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	m.stateMu.Unlock()

	go m.loop(loopCtx)
}

// Stop stops periodic sampling; repeated calls are safe.
func (m *Monitor) Stop() {
	m.stateMu.Lock()
	if !m.running {
		m.stateMu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.stateMu.Unlock()

	cancel()
	<-done

	m.stateMu.Lock()
	m.running = false
	m.cancel = nil
	m.done = nil
	m.stateMu.Unlock()
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.Interval())
	defer ticker.Stop()

	m.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.reset:
			ticker.Reset(m.Interval())
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Sample takes one snapshot immediately and stores it.
func (m *Monitor) Sample() Snapshot {
	snap := Snapshot{
		Timestamp:      m.opts.Clock(),
		ResidentMemory: m.opts.MemoryReader(),
		Goroutines:     runtime.NumGoroutine(),
	}
	if src := m.source(); src != nil {
		snap.ActiveWorkers = src.ActiveWorkers()
		for _, q := range src.ListQueues() {
			snap.Queues = append(snap.Queues, QueueMetrics{
				Name:           q.Name,
				QoS:            q.QoS,
				Depth:          q.Depth(),
				Running:        q.Running,
				MaxConcurrency: q.EffectiveConcurrency(),
				Completed:      q.Completed,
				Failed:         q.Failed,
			})
		}
	}
	m.snapshots.Add(snap)
	return snap
}

// Snapshots returns the retained samples, oldest first.
func (m *Monitor) Snapshots() []Snapshot { return m.snapshots.Ordered() }

// Latest returns the most recent sample.
func (m *Monitor) Latest() (Snapshot, bool) { return m.snapshots.Last() }

// =============================================================================
// core.Metrics
// =============================================================================

func (m *Monitor) RecordTaskExecution(rec core.TaskExecutionRecord) {
	m.RecordDuration(rec.Name, rec.Duration)
}

// RecordDuration feeds one observation for the named task.
func (m *Monitor) RecordDuration(name string, d time.Duration) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	st, ok := m.stats[name]
	if !ok {
		st = &TaskStats{Name: name}
		m.stats[name] = st
	}
	st.observe(d)
}

func (m *Monitor) RecordTaskPanic(queue string, panicInfo any) { m.panics.Add(1) }

func (m *Monitor) RecordQueueDepth(queue string, depth int) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.depths[queue] = depth
}

func (m *Monitor) RecordTaskRejected(queue string, reason string) { m.rejected.Add(1) }

func (m *Monitor) RecordQueueEvent(queue string, event core.QueueEvent) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.events[event]++
	if event == core.QueueDestroyed {
		delete(m.depths, queue)
	}
}
