package optimizer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/diagnostics"
	"github.com/Swind/go-taskkit/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	mem      atomic.Uint64
	samples  atomic.Int32
	mu       sync.Mutex
	interval time.Duration
}

func (f *fakeSampler) Sample() monitor.Snapshot {
	f.samples.Add(1)
	return monitor.Snapshot{ResidentMemory: f.mem.Load()}
}

func (f *fakeSampler) SetInterval(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interval = d
}

func newScheduler(t *testing.T) *core.Scheduler {
	t.Helper()
	s := core.NewScheduler(&core.Config{Logger: core.NewNoOpLogger()})
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func createQueue(t *testing.T, s *core.Scheduler, name string, kind core.QueueKind, qos core.QoS, n int) {
	t.Helper()
	_, err := s.CreateQueue(name, kind, qos, n)
	require.NoError(t, err)
}

func limits(s *core.Scheduler) map[string]int {
	out := make(map[string]int)
	for _, q := range s.ListQueues() {
		out[q.Name] = q.MaxConcurrency
	}
	return out
}

func TestProfileFor_Tiers(t *testing.T) {
	cases := []struct {
		name     string
		budget   uint64
		tier     Tier
		mult     int
		interval time.Duration
	}{
		{"low", 1 * gib, TierLow, 1, 5 * time.Second},
		{"medium", 4 * gib, TierMedium, 2, 2 * time.Second},
		{"high", 16 * gib, TierHigh, 3, time.Second},
		{"medium boundary", 2 * gib, TierMedium, 2, 2 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := ProfileFor(4, tc.budget, 2)
			assert.Equal(t, tc.tier, p.Tier)
			assert.Equal(t, tc.mult, p.Multiplier)
			assert.Equal(t, 4*tc.mult, p.MaxConcurrency)
			assert.Equal(t, tc.interval, p.MonitoringInterval)
		})
	}

	assert.Equal(t, 1, ProfileFor(0, 0, 0).MaxConcurrency)
	assert.Equal(t, 10000, ProfileFor(100000, 16*gib, 2).MaxConcurrency)
}

func TestAdaptToCapacity_ResizesConcurrentQueues(t *testing.T) {
	s := newScheduler(t)
	createQueue(t, s, "io", core.Concurrent, core.QoSUtility, core.DefaultConcurrency)
	createQueue(t, s, "pinned", core.Concurrent, core.QoSUtility, 3)
	createQueue(t, s, "main", core.Serial, core.QoSUserInteractive, 1)
	sampler := &fakeSampler{}
	o := New(s, sampler, Options{Logger: core.NewNoOpLogger()})

	p := o.AdaptToCapacity(8, 4*gib)

	assert.Equal(t, TierMedium, p.Tier)
	assert.Equal(t, 16, limits(s)["io"])
	assert.Equal(t, 3, limits(s)["pinned"], "explicit limits are kept")
	assert.Equal(t, 1, limits(s)["main"])
	assert.Equal(t, 2*time.Second, sampler.interval)
	assert.Equal(t, p, o.Profile())
	for _, q := range s.ListQueues() {
		if q.Name == "io" {
			assert.Equal(t, 16, q.Baseline)
		}
	}
}

func TestRebalance_ThrottlesLowestQoSFirst(t *testing.T) {
	s := newScheduler(t)
	createQueue(t, s, "bg", core.Concurrent, core.QoSBackground, 8)
	createQueue(t, s, "util", core.Concurrent, core.QoSUtility, 8)
	createQueue(t, s, "ui", core.Concurrent, core.QoSUserInteractive, 8)
	sampler := &fakeSampler{}
	var cleanups atomic.Int32
	o := New(s, sampler, Options{MemoryBudget: 1000, MemoryPressureFraction: 0.8, Logger: core.NewNoOpLogger()})
	o.AddCleanupHook("cache", func() { cleanups.Add(1) })

	sampler.mem.Store(900)
	o.Rebalance()
	assert.Equal(t, map[string]int{"bg": 4, "util": 8, "ui": 8}, limits(s))
	assert.EqualValues(t, 1, cleanups.Load())

	o.Rebalance()
	o.Rebalance()
	assert.Equal(t, map[string]int{"bg": 1, "util": 8, "ui": 8}, limits(s))

	o.OnMemoryPressure()
	assert.Equal(t, map[string]int{"bg": 1, "util": 4, "ui": 8}, limits(s))
	assert.EqualValues(t, 4, cleanups.Load())
}

func TestRebalance_RestoresTowardsBaseline(t *testing.T) {
	s := newScheduler(t)
	createQueue(t, s, "bg", core.Concurrent, core.QoSBackground, 8)
	sampler := &fakeSampler{}
	o := New(s, sampler, Options{MemoryBudget: 1000, Logger: core.NewNoOpLogger()})

	sampler.mem.Store(900)
	o.Rebalance()
	o.Rebalance()
	require.Equal(t, 2, limits(s)["bg"])

	// between the restore line (0.8*800) and the threshold nothing changes
	sampler.mem.Store(700)
	assert.Empty(t, o.Rebalance())
	assert.Equal(t, 2, limits(s)["bg"])

	sampler.mem.Store(100)
	got := o.Rebalance()
	require.Len(t, got, 1)
	assert.Equal(t, CategoryConcurrency, got[0].Category)
	assert.Equal(t, 4, limits(s)["bg"])
	o.Rebalance()
	o.Rebalance()
	assert.Equal(t, 8, limits(s)["bg"])
}

func TestRebalance_NoBudget(t *testing.T) {
	s := newScheduler(t)
	sampler := &fakeSampler{}
	o := New(s, sampler, Options{Logger: core.NewNoOpLogger()})
	assert.Nil(t, o.Rebalance())
	assert.Zero(t, sampler.samples.Load())
}

func TestRebalance_AllAtFloor(t *testing.T) {
	s := newScheduler(t)
	createQueue(t, s, "bg", core.Concurrent, core.QoSBackground, 1)
	sampler := &fakeSampler{}
	sampler.mem.Store(2000)
	o := New(s, sampler, Options{MemoryBudget: 1000, Logger: core.NewNoOpLogger()})

	got := o.Rebalance()
	require.Len(t, got, 2)
	assert.Equal(t, SeverityCritical, got[1].Severity)
}

func TestRebalance_DoesNotPreemptRunningTasks(t *testing.T) {
	s := newScheduler(t)
	createQueue(t, s, "bg", core.Concurrent, core.QoSBackground, 4)
	release := make(chan struct{})
	var tasks []*core.Task
	for range 4 {
		task := core.NewTask("hold", func(ctx context.Context) error { <-release; return nil })
		_, err := s.Submit(task, "bg")
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	require.Eventually(t, func() bool { return s.ActiveWorkers() == 4 }, time.Second, time.Millisecond)

	sampler := &fakeSampler{}
	sampler.mem.Store(2000)
	o := New(s, sampler, Options{MemoryBudget: 1000, Logger: core.NewNoOpLogger()})
	o.Rebalance()

	assert.Equal(t, 2, limits(s)["bg"])
	assert.Equal(t, 4, s.ActiveWorkers())
	close(release)
	for _, task := range tasks {
		require.NoError(t, task.Wait(context.Background()))
	}
}

func TestStart_PeriodicRebalance(t *testing.T) {
	s := newScheduler(t)
	sampler := &fakeSampler{}
	o := New(s, sampler, Options{MemoryBudget: 1000, Logger: core.NewNoOpLogger()})

	require.NoError(t, o.Start("@every 1s"))
	assert.Error(t, o.Start("@every 1s"))
	require.Eventually(t, func() bool { return sampler.samples.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	o.Stop()
	o.Stop()

	assert.Error(t, o.Start("not a schedule"))
}

func TestSuggestions(t *testing.T) {
	s := newScheduler(t)
	createQueue(t, s, "bg", core.Concurrent, core.QoSBackground, 8)
	require.NoError(t, s.SetMaxConcurrency("bg", 2))
	createQueue(t, s, "paused", core.Serial, core.QoSDefault, 1)
	_, err := s.Submit(core.NewTask("pending", func(ctx context.Context) error { return nil },
		core.DependsOn(core.NewTask("never", func(ctx context.Context) error { return nil }))), "paused")
	require.NoError(t, err)
	require.NoError(t, s.Suspend("paused"))
	o := New(s, &fakeSampler{}, Options{Logger: core.NewNoOpLogger()})

	report := diagnostics.Report{Issues: []diagnostics.Issue{
		{Kind: diagnostics.IssueStaleLock, Severity: diagnostics.SeverityCritical, Subject: "db"},
		{Kind: diagnostics.IssueSlowTask, Severity: diagnostics.SeverityWarning, Subject: "render"},
	}}
	got := o.Suggestions(report)

	require.Len(t, got, 4)
	assert.Equal(t, Suggestion{CategoryLocking, SeverityCritical, got[0].Message}, got[0])
	assert.Contains(t, got[0].Message, `"db"`)
	assert.Equal(t, CategoryTasks, got[1].Category)
	assert.Contains(t, got[2].Message, "below its baseline")
	assert.Contains(t, got[3].Message, "suspended")
}
