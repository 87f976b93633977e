package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Swind/go-taskkit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	queues  []core.QueueStatus
	workers int
}

func (f *fakeSource) ListQueues() []core.QueueStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.QueueStatus(nil), f.queues...)
}

func (f *fakeSource) ActiveWorkers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workers
}

func (f *fakeSource) setWorkers(n int) {
	f.mu.Lock()
	f.workers = n
	f.mu.Unlock()
}

// sequence returns a memory reader yielding values in order, then repeating
// the last one.
func sequence(values ...uint64) func() uint64 {
	var mu sync.Mutex
	i := 0
	return func() uint64 {
		mu.Lock()
		defer mu.Unlock()
		v := values[min(i, len(values)-1)]
		i++
		return v
	}
}

func newTestMonitor(src Source, opts Options) *Monitor {
	opts.Logger = core.NewNoOpLogger()
	if opts.MemoryReader == nil {
		opts.MemoryReader = func() uint64 { return 1 << 20 }
	}
	return New(src, opts)
}

func TestRecordDuration_Aggregates(t *testing.T) {
	m := newTestMonitor(nil, Options{})

	m.RecordTaskExecution(core.TaskExecutionRecord{Name: "fetch", Duration: 100 * time.Millisecond})
	m.RecordTaskExecution(core.TaskExecutionRecord{Name: "fetch", Duration: 300 * time.Millisecond})
	m.RecordDuration("fetch", 200*time.Millisecond)

	st, ok := m.TaskStats("fetch")
	require.True(t, ok)
	assert.EqualValues(t, 3, st.Count)
	assert.Equal(t, 600*time.Millisecond, st.Total)
	assert.Equal(t, 100*time.Millisecond, st.Min)
	assert.Equal(t, 300*time.Millisecond, st.Max)
	assert.Equal(t, 200*time.Millisecond, st.Mean())

	// 100 -> 0.2*300+0.8*100 = 140 -> 0.2*200+0.8*140 = 152
	assert.InDelta(t, float64(152*time.Millisecond), float64(st.EWMA), float64(time.Microsecond))

	_, ok = m.TaskStats("missing")
	assert.False(t, ok)
}

func TestSample_ReadsSource(t *testing.T) {
	src := &fakeSource{
		queues: []core.QueueStatus{
			{Name: "io", Kind: core.Concurrent, MaxConcurrency: 4, Ready: 2, Waiting: 1, Running: 3, Completed: 10},
			{Name: "main", Kind: core.Serial, MaxConcurrency: 8},
		},
		workers: 3,
	}
	m := newTestMonitor(src, Options{})

	snap := m.Sample()

	assert.Equal(t, uint64(1<<20), snap.ResidentMemory)
	assert.Equal(t, 3, snap.ActiveWorkers)
	assert.Positive(t, snap.Goroutines)
	require.Len(t, snap.Queues, 2)
	assert.Equal(t, 3, snap.Queues[0].Depth)
	assert.EqualValues(t, 10, snap.Queues[0].Completed)
	assert.Equal(t, 1, snap.Queues[1].MaxConcurrency)

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, snap.Timestamp, latest.Timestamp)
}

func TestSnapshots_BoundedRing(t *testing.T) {
	m := newTestMonitor(nil, Options{Capacity: 3, MemoryReader: sequence(1, 2, 3, 4, 5)})
	for range 5 {
		m.Sample()
	}

	snaps := m.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, uint64(3), snaps[0].ResidentMemory)
	assert.Equal(t, uint64(5), snaps[2].ResidentMemory)
}

func TestReport_Summaries(t *testing.T) {
	src := &fakeSource{}
	m := newTestMonitor(src, Options{MemoryReader: sequence(100, 300, 200)})
	for _, w := range []int{1, 5, 3} {
		src.setWorkers(w)
		m.Sample()
	}
	m.RecordDuration("b", time.Second)
	m.RecordDuration("a", time.Second)
	m.RecordTaskPanic("io", "boom")
	m.RecordTaskRejected("io", "suspended")
	m.RecordQueueEvent("io", core.QueueCreated)
	m.RecordQueueDepth("io", 7)

	r := m.Report()

	assert.Equal(t, 3, r.Samples)
	assert.Equal(t, uint64(200), r.CurrentMemory)
	assert.Equal(t, uint64(200), r.AverageMemory)
	assert.Equal(t, uint64(300), r.PeakMemory)
	assert.Equal(t, 3, r.CurrentWorkers)
	assert.InDelta(t, 3.0, r.AverageWorkers, 1e-9)
	assert.Equal(t, 5, r.PeakWorkers)
	require.Len(t, r.Tasks, 2)
	assert.Equal(t, "a", r.Tasks[0].Name)
	assert.EqualValues(t, 1, r.Panics)
	assert.EqualValues(t, 1, r.Rejected)
	assert.EqualValues(t, 1, r.QueueEvents[core.QueueCreated])
	assert.Equal(t, 7, r.QueueDepths["io"])

	m.RecordQueueEvent("io", core.QueueDestroyed)
	assert.NotContains(t, m.Report().QueueDepths, "io")
}

func TestReport_Empty(t *testing.T) {
	r := newTestMonitor(nil, Options{}).Report()
	assert.Zero(t, r.Samples)
	assert.Zero(t, r.PeakMemory)
	assert.Empty(t, r.Tasks)
}

func TestAnalyzeBottlenecks_SlowTask(t *testing.T) {
	m := newTestMonitor(nil, Options{SlowTaskThreshold: 500 * time.Millisecond})
	m.RecordDuration("render", 800*time.Millisecond)
	m.RecordDuration("render", 400*time.Millisecond)
	m.RecordDuration("ping", 10*time.Millisecond)
	m.RecordDuration("edge", 500*time.Millisecond)

	found := m.AnalyzeBottlenecks()

	require.Len(t, found, 1)
	assert.Equal(t, SlowTask, found[0].Kind)
	assert.Equal(t, "render", found[0].Subject)
	assert.InDelta(t, 0.6, found[0].Value, 1e-9)
}

func TestAnalyzeBottlenecks_MemoryGrowth(t *testing.T) {
	cases := []struct {
		name   string
		values []uint64
		want   bool
	}{
		{"monotonic over half", []uint64{100, 120, 120, 160}, true},
		{"monotonic under half", []uint64{100, 120, 150}, false},
		{"not monotonic", []uint64{100, 200, 150, 400}, false},
		{"single sample", []uint64{100}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMonitor(nil, Options{MemoryReader: sequence(tc.values...)})
			for range tc.values {
				m.Sample()
			}

			found := m.AnalyzeBottlenecks()

			if !tc.want {
				assert.Empty(t, found)
				return
			}
			require.Len(t, found, 1)
			assert.Equal(t, MemoryGrowth, found[0].Kind)
			assert.InDelta(t, 0.6, found[0].Value, 1e-9)
		})
	}
}

func TestStartStop_SamplesPeriodically(t *testing.T) {
	m := newTestMonitor(&fakeSource{}, Options{Interval: 5 * time.Millisecond})

	m.Start(context.Background())
	m.Start(context.Background())
	require.Eventually(t, func() bool { return len(m.Snapshots()) >= 3 }, time.Second, time.Millisecond)
	m.Stop()
	m.Stop()

	n := len(m.Snapshots())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, len(m.Snapshots()), "no samples after Stop")
}

func TestSetInterval(t *testing.T) {
	m := newTestMonitor(nil, Options{Interval: time.Hour})
	m.Start(context.Background())
	defer m.Stop()

	m.SetInterval(5 * time.Millisecond)
	m.SetInterval(0)

	assert.Equal(t, 5*time.Millisecond, m.Interval())
	require.Eventually(t, func() bool { return len(m.Snapshots()) >= 3 }, time.Second, time.Millisecond)
}

func TestResidentMemory_NonZero(t *testing.T) {
	assert.Positive(t, ResidentMemory())
}

func TestMonitor_WithScheduler(t *testing.T) {
	m := newTestMonitor(nil, Options{})
	s := core.NewScheduler(&core.Config{Logger: core.NewNoOpLogger(), Metrics: m})
	defer func() { _ = s.Shutdown(context.Background()) }()
	m.SetSource(s)

	_, err := s.CreateQueue("io", core.Concurrent, core.QoSUtility, 2)
	require.NoError(t, err)
	task := core.NewTask("work", func(ctx context.Context) error { return nil })
	_, err = s.Submit(task, "io")
	require.NoError(t, err)
	require.NoError(t, task.Wait(context.Background()))

	require.Eventually(t, func() bool {
		st, ok := m.TaskStats("work")
		return ok && st.Count == 1
	}, time.Second, time.Millisecond)
	snap := m.Sample()
	require.Len(t, snap.Queues, 1)
	assert.Equal(t, "io", snap.Queues[0].Name)
	assert.Equal(t, core.QoSUtility, snap.Queues[0].QoS)
	assert.EqualValues(t, 1, snap.Queues[0].Completed)
	assert.EqualValues(t, 1, m.Report().QueueEvents[core.QueueCreated])
}
