// Package optimizer retunes queue concurrency limits from device capacity and
// observed memory pressure.
//
// Adjustments only affect future dispatch: lowering a queue's limit never
// preempts tasks that are already running.
package optimizer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/errdefs"
	"github.com/Swind/go-taskkit/monitor"
)

const (
	DefaultMemoryPressureFraction = 0.8
	DefaultMultiplier             = 2

	// restoreFraction of the pressure threshold is where limits start
	// growing back towards their baseline.
	restoreFraction = 0.8
	maxConcurrency  = 10000
)

// QueueController is satisfied by *core.Scheduler.
type QueueController interface {
	ListQueues() []core.QueueStatus
	SetMaxConcurrency(name string, n int) error
	SetBaselineConcurrency(name string, n int) error
}

// Sampler is satisfied by *monitor.Monitor.
type Sampler interface {
	Sample() monitor.Snapshot
	SetInterval(d time.Duration)
}

// Options configures an Optimizer. Zero values fall back to the defaults.
type Options struct {
	MemoryPressureFraction float64
	Multiplier             int
	// MemoryBudget enables memory pressure handling before AdaptToCapacity
	// is called.
	MemoryBudget uint64
	Logger       core.Logger
}

// Optimizer adjusts queue limits through a QueueController.
type Optimizer struct {
	ctl     QueueController
	sampler Sampler
	logger  core.Logger

	mu       sync.Mutex
	fraction float64
	mult     int
	profile  Profile
	budget   uint64
	hooks    []cleanupHook

	cronMu sync.Mutex
	cron   *cron.Cron
}

type cleanupHook struct {
	name string
	fn   func()
}

// New creates an optimizer.
func New(ctl QueueController, sampler Sampler, opts Options) *Optimizer {
	if opts.MemoryPressureFraction <= 0 || opts.MemoryPressureFraction > 1 {
		opts.MemoryPressureFraction = DefaultMemoryPressureFraction
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = DefaultMultiplier
	}
	if opts.Logger == nil {
		opts.Logger = core.NewDefaultLogger("optimizer")
	}
	return &Optimizer{
		ctl:      ctl,
		sampler:  sampler,
		logger:   opts.Logger,
		fraction: opts.MemoryPressureFraction,
		mult:     opts.Multiplier,
		budget:   opts.MemoryBudget,
	}
}

// AddCleanupHook registers fn to run whenever memory pressure is detected.
// Hooks run in registration order.
func (o *Optimizer) AddCleanupHook(name string, fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hooks = append(o.hooks, cleanupHook{name: name, fn: fn})
}

// SetMemoryPressureFraction changes the share of the memory budget above
// which Rebalance throttles. Values outside (0, 1] are ignored.
func (o *Optimizer) SetMemoryPressureFraction(f float64) {
	if f <= 0 || f > 1 {
		return
	}
	o.mu.Lock()
	o.fraction = f
	o.mu.Unlock()
}

// MemoryPressureFraction returns the fraction in effect.
func (o *Optimizer) MemoryPressureFraction() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fraction
}

// Profile returns the last profile applied by AdaptToCapacity.
func (o *Optimizer) Profile() Profile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.profile
}

// AdaptToCapacity sizes every auto-sized concurrent queue (created with
// core.DefaultConcurrency) for the device and adjusts the monitoring interval
// to its tier. The new limit becomes each such queue's baseline. Queues with
// an explicit limit are left alone.
func (o *Optimizer) AdaptToCapacity(cpuCount int, memoryBudget uint64) Profile {
	o.mu.Lock()
	p := ProfileFor(cpuCount, memoryBudget, o.mult)
	o.profile = p
	o.budget = memoryBudget
	o.mu.Unlock()

	for _, q := range o.ctl.ListQueues() {
		if q.Kind != core.Concurrent || !q.AutoSized || q.Destroying {
			continue
		}
		if err := o.ctl.SetBaselineConcurrency(q.Name, p.MaxConcurrency); err != nil {
			o.logger.Warn("failed to resize queue", core.F("queue", q.Name), core.F("error", err))
		}
	}
	if o.sampler != nil {
		o.sampler.SetInterval(p.MonitoringInterval)
	}

	o.logger.Info("adapted to device capacity",
		core.F("tier", p.Tier.String()),
		core.F("cpus", p.CPUs),
		core.F("max_concurrency", p.MaxConcurrency),
		core.F("interval", p.MonitoringInterval))
	return p
}

// Rebalance compares current memory with the budget. Over the pressure
// threshold it runs the cleanup hooks and halves the limit of the lowest QoS
// class that can still shrink. Well under the threshold it grows reduced
// queues one step back towards their baseline. The returned suggestions
// describe what was done.
func (o *Optimizer) Rebalance() []Suggestion {
	o.mu.Lock()
	budget, fraction := o.budget, o.fraction
	o.mu.Unlock()
	if budget == 0 || o.sampler == nil {
		return nil
	}

	mem := o.sampler.Sample().ResidentMemory
	threshold := uint64(fraction * float64(budget))
	switch {
	case mem > threshold:
		return o.relieve(mem, threshold)
	case float64(mem) < restoreFraction*float64(threshold):
		return o.restore()
	default:
		return nil
	}
}

// OnMemoryPressure rebalances immediately. Call it from an external memory
// pressure signal.
func (o *Optimizer) OnMemoryPressure() []Suggestion {
	o.logger.Info("memory pressure signalled")
	return o.Rebalance()
}

func (o *Optimizer) relieve(mem, threshold uint64) []Suggestion {
	out := []Suggestion{{
		Category: CategoryMemory,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("resident memory %d bytes exceeds pressure threshold %d bytes", mem, threshold),
	}}

	o.mu.Lock()
	hooks := append([]cleanupHook(nil), o.hooks...)
	o.mu.Unlock()
	for _, h := range hooks {
		o.logger.Debug("running cleanup hook", core.F("hook", h.name))
		h.fn()
	}

	victims := shrinkable(o.ctl.ListQueues())
	if len(victims) == 0 {
		return append(out, Suggestion{
			Category: CategoryConcurrency,
			Severity: SeverityCritical,
			Message:  "every concurrent queue is already at concurrency 1",
		})
	}
	for _, q := range victims {
		n := max(1, q.MaxConcurrency/2)
		if err := o.ctl.SetMaxConcurrency(q.Name, n); err != nil {
			o.logger.Warn("failed to shrink queue", core.F("queue", q.Name), core.F("error", err))
			continue
		}
		out = append(out, Suggestion{
			Category: CategoryConcurrency,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("lowered %s queue %q from %d to %d", q.QoS, q.Name, q.MaxConcurrency, n),
		})
	}
	o.logger.Warn("memory pressure: queues throttled", core.F("memory", mem), core.F("queues", len(victims)))
	return out
}

// shrinkable returns the concurrent queues of the lowest QoS class whose
// limit is still above 1.
func shrinkable(queues []core.QueueStatus) []core.QueueStatus {
	var cand []core.QueueStatus
	for _, q := range queues {
		if q.Kind == core.Concurrent && !q.Destroying && q.MaxConcurrency > 1 {
			cand = append(cand, q)
		}
	}
	if len(cand) == 0 {
		return nil
	}
	sort.SliceStable(cand, func(i, j int) bool { return cand[i].QoS < cand[j].QoS })
	lowest := cand[0].QoS
	end := 1
	for end < len(cand) && cand[end].QoS == lowest {
		end++
	}
	return cand[:end]
}

func (o *Optimizer) restore() []Suggestion {
	var out []Suggestion
	for _, q := range o.ctl.ListQueues() {
		if q.Kind != core.Concurrent || q.Destroying || q.MaxConcurrency >= q.Baseline {
			continue
		}
		n := min(q.Baseline, q.MaxConcurrency*2)
		if err := o.ctl.SetMaxConcurrency(q.Name, n); err != nil {
			o.logger.Warn("failed to restore queue", core.F("queue", q.Name), core.F("error", err))
			continue
		}
		out = append(out, Suggestion{
			Category: CategoryConcurrency,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("restored queue %q from %d to %d (baseline %d)", q.Name, q.MaxConcurrency, n, q.Baseline),
		})
	}
	return out
}

// Start schedules Rebalance on a cron spec, e.g. "@every 30s". An empty spec
// uses the current profile's monitoring interval.
func (o *Optimizer) Start(spec string) error {
	if spec == "" {
		interval := o.Profile().MonitoringInterval
		if interval <= 0 {
			interval = monitor.DefaultInterval
		}
		spec = "@every " + interval.String()
	}

	o.cronMu.Lock()
	defer o.cronMu.Unlock()
	if o.cron != nil {
		return errdefs.NewInvalidStateError("start", "optimizer", "running")
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { o.Rebalance() }); err != nil {
		return errdefs.InvalidArgument("rebalance schedule %q: %v", spec, err)
	}
	c.Start()
	o.cron = c
	o.logger.Debug("periodic rebalance started", core.F("schedule", spec))
	return nil
}

// Stop cancels the periodic rebalance and waits for a running one to finish.
func (o *Optimizer) Stop() {
	o.cronMu.Lock()
	c := o.cron
	o.cron = nil
	o.cronMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
