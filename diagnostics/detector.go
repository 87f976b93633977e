package diagnostics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/monitor"
	"github.com/Swind/go-taskkit/primitives"
)

const (
	DefaultStaleLockThreshold = 10 * time.Second
	DefaultStaleLockCritical  = 30 * time.Second
	DefaultOrphanedTaskAge    = 60 * time.Second
)

// LockSource is satisfied by *primitives.Registry.
type LockSource interface {
	Snapshot() []primitives.PrimitiveState
}

// TaskSource is satisfied by *core.Scheduler.
type TaskSource interface {
	Tasks() []core.TaskSnapshot
}

// BottleneckSource is satisfied by *monitor.Monitor.
type BottleneckSource interface {
	AnalyzeBottlenecks() []monitor.Bottleneck
}

// Options configures a Detector. Zero values fall back to the defaults.
type Options struct {
	StaleLockThreshold time.Duration
	StaleLockCritical  time.Duration
	OrphanedTaskAge    time.Duration
	Clock              func() time.Time
	Logger             core.Logger
}

// Detector runs the heuristics against live sources. Any source may be nil.
type Detector struct {
	locks LockSource
	tasks TaskSource
	perf  BottleneckSource
	opts  Options

	mu         sync.RWMutex
	thresholds Thresholds
}

// Thresholds are the age limits a Detector applies. They can change while
// the detector is in use.
type Thresholds struct {
	StaleLock         time.Duration
	StaleLockCritical time.Duration
	OrphanedTaskAge   time.Duration
}

// NewDetector creates a detector.
func NewDetector(locks LockSource, tasks TaskSource, perf BottleneckSource, opts Options) *Detector {
	if opts.StaleLockThreshold <= 0 {
		opts.StaleLockThreshold = DefaultStaleLockThreshold
	}
	if opts.StaleLockCritical <= 0 {
		opts.StaleLockCritical = DefaultStaleLockCritical
	}
	if opts.OrphanedTaskAge <= 0 {
		opts.OrphanedTaskAge = DefaultOrphanedTaskAge
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = core.NewDefaultLogger("diagnostics")
	}
	return &Detector{
		locks: locks,
		tasks: tasks,
		perf:  perf,
		opts:  opts,
		thresholds: Thresholds{
			StaleLock:         opts.StaleLockThreshold,
			StaleLockCritical: opts.StaleLockCritical,
			OrphanedTaskAge:   opts.OrphanedTaskAge,
		},
	}
}

// Thresholds returns the limits currently in effect.
func (d *Detector) Thresholds() Thresholds {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.thresholds
}

// SetThresholds replaces the limits; zero fields keep their current value.
func (d *Detector) SetThresholds(t Thresholds) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.StaleLock > 0 {
		d.thresholds.StaleLock = t.StaleLock
	}
	if t.StaleLockCritical > 0 {
		d.thresholds.StaleLockCritical = t.StaleLockCritical
	}
	if t.OrphanedTaskAge > 0 {
		d.thresholds.OrphanedTaskAge = t.OrphanedTaskAge
	}
}

// DetectStaleLocks flags holds older than threshold; threshold <= 0 uses the
// configured default. The critical cut-off keeps its configured ratio to the
// default threshold.
func (d *Detector) DetectStaleLocks(threshold time.Duration) []StaleLock {
	if d.locks == nil {
		return nil
	}
	th := d.Thresholds()
	critical := th.StaleLockCritical
	if threshold <= 0 {
		threshold = th.StaleLock
	} else if threshold != th.StaleLock {
		critical = time.Duration(float64(threshold) * float64(th.StaleLockCritical) / float64(th.StaleLock))
	}
	return StaleLocks(d.locks.Snapshot(), d.opts.Clock(), threshold, critical)
}

// DetectOrphanedTasks flags tasks that stayed queued or running past the
// configured age.
func (d *Detector) DetectOrphanedTasks() []OrphanSuspect {
	if d.tasks == nil {
		return nil
	}
	return OrphanedTasks(d.tasks.Tasks(), d.opts.Clock(), d.Thresholds().OrphanedTaskAge)
}

// IssueKind classifies an Issue.
type IssueKind string

const (
	IssueStaleLock    IssueKind = "stale_lock"
	IssueOrphanedTask IssueKind = "orphaned_task"
	IssueSlowTask     IssueKind = IssueKind(monitor.SlowTask)
	IssueMemoryGrowth IssueKind = IssueKind(monitor.MemoryGrowth)
)

// Issue is one entry of a Report.
type Issue struct {
	Kind     IssueKind
	Severity Severity
	Subject  string
	Message  string
}

// Report is the combined advisory output.
type Report struct {
	GeneratedAt     time.Time
	Issues          []Issue
	HealthScore     int
	Recommendations []string
}

// Healthy reports whether no issue was found.
func (r Report) Healthy() bool { return len(r.Issues) == 0 }

var penalty = map[Severity]int{
	SeverityWarning:  10,
	SeverityCritical: 25,
}

// GenerateReport runs every heuristic and scores the result. The score
// starts at 100 and loses a fixed amount per issue by severity.
func (d *Detector) GenerateReport() Report {
	r := Report{GeneratedAt: d.opts.Clock(), HealthScore: 100}

	for _, w := range d.DetectStaleLocks(0) {
		r.Issues = append(r.Issues, Issue{Kind: IssueStaleLock, Severity: w.Severity, Subject: w.Name, Message: w.String()})
	}
	for _, o := range d.DetectOrphanedTasks() {
		r.Issues = append(r.Issues, Issue{Kind: IssueOrphanedTask, Severity: o.Severity, Subject: o.Task.ID.String(), Message: o.String()})
	}
	if d.perf != nil {
		for _, b := range d.perf.AnalyzeBottlenecks() {
			r.Issues = append(r.Issues, Issue{Kind: IssueKind(b.Kind), Severity: SeverityWarning, Subject: b.Subject, Message: b.Message})
		}
	}

	seen := make(map[IssueKind]bool)
	for _, is := range r.Issues {
		r.HealthScore -= penalty[is.Severity]
		if !seen[is.Kind] {
			seen[is.Kind] = true
			r.Recommendations = append(r.Recommendations, recommendation(is.Kind, r.Issues))
		}
	}
	r.HealthScore = max(r.HealthScore, 0)
	sort.Strings(r.Recommendations)

	if len(r.Issues) > 0 {
		d.opts.Logger.Warn("diagnostics found issues", core.F("issues", len(r.Issues)), core.F("health", r.HealthScore))
	}
	return r
}

func recommendation(kind IssueKind, issues []Issue) string {
	var subjects []string
	for _, is := range issues {
		if is.Kind == kind {
			subjects = append(subjects, is.Subject)
		}
	}
	switch kind {
	case IssueStaleLock:
		return fmt.Sprintf("Check lock ordering and hold times for %v; a holder may be blocked or leaked", subjects)
	case IssueOrphanedTask:
		return fmt.Sprintf("Inspect or cancel long-lived tasks %v; check for dependencies that will never complete", subjects)
	case IssueSlowTask:
		return fmt.Sprintf("Split or move slow tasks %v to a concurrent queue", subjects)
	case IssueMemoryGrowth:
		return "Memory keeps growing; trigger a rebalance or lower queue concurrency"
	default:
		return fmt.Sprintf("Investigate %s issues %v", kind, subjects)
	}
}
