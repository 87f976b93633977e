package monitor

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/Swind/go-taskkit/core"
)

// Report summarizes the retained snapshots and task statistics.
type Report struct {
	GeneratedAt time.Time
	Samples     int

	CurrentMemory uint64
	AverageMemory uint64
	PeakMemory    uint64

	CurrentWorkers int
	AverageWorkers float64
	PeakWorkers    int
	Goroutines     int

	Tasks       []TaskStats
	QueueDepths map[string]int
	QueueEvents map[core.QueueEvent]int64
	Panics      int64
	Rejected    int64
}

// Report builds a summary from the current state. It does not take a new
// sample.
func (m *Monitor) Report() Report {
	snaps := m.snapshots.Ordered()
	r := Report{
		GeneratedAt: m.opts.Clock(),
		Samples:     len(snaps),
		Panics:      m.panics.Load(),
		Rejected:    m.rejected.Load(),
	}

	if n := len(snaps); n > 0 {
		var memSum uint64
		var workerSum int
		for _, s := range snaps {
			memSum += s.ResidentMemory
			workerSum += s.ActiveWorkers
			r.PeakMemory = max(r.PeakMemory, s.ResidentMemory)
			r.PeakWorkers = max(r.PeakWorkers, s.ActiveWorkers)
		}
		last := snaps[n-1]
		r.CurrentMemory = last.ResidentMemory
		r.CurrentWorkers = last.ActiveWorkers
		r.Goroutines = last.Goroutines
		r.AverageMemory = memSum / uint64(n)
		r.AverageWorkers = float64(workerSum) / float64(n)
	}

	m.statsMu.Lock()
	r.Tasks = make([]TaskStats, 0, len(m.stats))
	for _, st := range m.stats {
		r.Tasks = append(r.Tasks, *st)
	}
	r.QueueDepths = maps.Clone(m.depths)
	r.QueueEvents = maps.Clone(m.events)
	m.statsMu.Unlock()

	sort.Slice(r.Tasks, func(i, j int) bool { return r.Tasks[i].Name < r.Tasks[j].Name })
	return r
}

// TaskStats returns the statistics for one task name.
func (m *Monitor) TaskStats(name string) (TaskStats, bool) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	st, ok := m.stats[name]
	if !ok {
		return TaskStats{}, false
	}
	return *st, true
}

// BottleneckKind classifies a Bottleneck.
type BottleneckKind string

const (
	SlowTask     BottleneckKind = "slow_task"
	MemoryGrowth BottleneckKind = "memory_growth"
)

// Bottleneck is an advisory finding.
type Bottleneck struct {
	Kind    BottleneckKind
	Subject string
	Message string
	// Value is the mean duration in seconds for slow_task, or the growth
	// fraction for memory_growth.
	Value float64
}

// AnalyzeBottlenecks flags task names whose mean duration exceeds the slow
// task threshold, and memory that grew monotonically by more than the growth
// threshold across the retained window.
func (m *Monitor) AnalyzeBottlenecks() []Bottleneck {
	var out []Bottleneck
	slow := m.SlowTaskThreshold()

	m.statsMu.Lock()
	names := slices.Sorted(maps.Keys(m.stats))
	for _, name := range names {
		mean := m.stats[name].Mean()
		if mean > slow {
			out = append(out, Bottleneck{
				Kind:    SlowTask,
				Subject: name,
				Message: fmt.Sprintf("task %q averages %v (threshold %v)", name, mean, slow),
				Value:   mean.Seconds(),
			})
		}
	}
	m.statsMu.Unlock()

	if growth, ok := monotonicGrowth(m.snapshots.Ordered()); ok && growth > m.opts.MemoryGrowthThreshold {
		out = append(out, Bottleneck{
			Kind:    MemoryGrowth,
			Subject: "resident_memory",
			Message: fmt.Sprintf("resident memory grew %.0f%% without ever dropping", growth*100),
			Value:   growth,
		})
	}
	return out
}

// monotonicGrowth returns (last-first)/first when the samples never decrease.
func monotonicGrowth(snaps []Snapshot) (float64, bool) {
	if len(snaps) < 2 || snaps[0].ResidentMemory == 0 {
		return 0, false
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].ResidentMemory < snaps[i-1].ResidentMemory {
			return 0, false
		}
	}
	first := float64(snaps[0].ResidentMemory)
	return (float64(snaps[len(snaps)-1].ResidentMemory) - first) / first, true
}
