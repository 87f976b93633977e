package taskkit

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Swind/go-taskkit/archive"
	"github.com/Swind/go-taskkit/config"
	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/diagnostics"
	"github.com/Swind/go-taskkit/errdefs"
	"github.com/Swind/go-taskkit/monitor"
	"github.com/Swind/go-taskkit/optimizer"
	"github.com/Swind/go-taskkit/primitives"
)

// Options configures a SchedulerContext.
type Options struct {
	// Config holds the tunables. The zero value means config.Default().
	Config config.Options

	Logger core.Logger
	Tracer trace.Tracer

	// Metrics are extra sinks (Prometheus, OpenTelemetry) that receive every
	// scheduler event alongside the built-in monitor.
	Metrics []core.Metrics

	// Archive overrides the store opened from Config.ArchivePath.
	Archive archive.Store

	Clock        func() time.Time
	MemoryReader func() uint64
}

// SchedulerContext is the process-wide handle to one scheduler, one
// primitives registry and the health tooling built on them. Create it once
// at startup and pass it to the code that needs it.
type SchedulerContext struct {
	cfg    config.Options
	logger core.Logger

	scheduler  *core.Scheduler
	primitives *primitives.Registry
	monitor    *monitor.Monitor
	detector   *diagnostics.Detector
	optimizer  *optimizer.Optimizer

	store    archive.Store
	recorder *archive.Recorder

	stateMu sync.Mutex
	running bool
	closed  bool
}

// New builds a SchedulerContext. Background loops are not running until
// Start is called.
func New(ctx context.Context, opts Options) (*SchedulerContext, error) {
	cfg := opts.Config
	if cfg == (config.Options{}) {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" {
		if err := core.SetLogLevel(cfg.LogLevel); err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = core.NewDefaultLogger("")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	sc := &SchedulerContext{cfg: cfg, logger: logger}

	sc.monitor = monitor.New(nil, monitor.Options{
		Interval:          cfg.MonitoringInterval(),
		Capacity:          cfg.SnapshotCapacity,
		SlowTaskThreshold: cfg.SlowTaskThreshold(),
		Logger:            logger,
		MemoryReader:      opts.MemoryReader,
		Clock:             clock,
	})

	sinks := core.MultiMetrics{sc.monitor}
	sinks = append(sinks, opts.Metrics...)

	sc.store = opts.Archive
	if sc.store == nil && cfg.ArchivePath != "" {
		store, err := archive.OpenSQLite(ctx, cfg.ArchivePath)
		if err != nil {
			return nil, err
		}
		sc.store = store
	}
	if sc.store != nil {
		sc.recorder = archive.NewRecorder(sc.store, archive.RecorderOptions{Logger: logger})
		sinks = append(sinks, sc.recorder)
	}

	sc.scheduler = core.NewScheduler(&core.Config{
		Logger:              logger,
		Metrics:             sinks,
		Tracer:              opts.Tracer,
		CancelGracePeriod:   cfg.CancelGracePeriod(),
		CascadeCancellation: cfg.CascadeCancellation,
		HistoryCapacity:     cfg.HistoryCapacity,
	})
	sc.monitor.SetSource(sc.scheduler)

	sc.primitives = primitives.NewRegistry(primitives.WithClock(clock))

	sc.detector = diagnostics.NewDetector(sc.primitives, sc.scheduler, sc.monitor, diagnostics.Options{
		StaleLockThreshold: cfg.StaleLockThreshold(),
		StaleLockCritical:  cfg.StaleLockCritical(),
		OrphanedTaskAge:    cfg.OrphanedTaskAge(),
		Clock:              clock,
		Logger:             logger,
	})

	sc.optimizer = optimizer.New(sc.scheduler, sc.monitor, optimizer.Options{
		MemoryPressureFraction: cfg.MemoryPressureThresholdFraction,
		Multiplier:             cfg.DefaultMaxConcurrencyMultiplier,
		MemoryBudget:           cfg.MemoryBudgetBytes,
		Logger:                 logger,
	})
	return sc, nil
}

// Start sizes auto-sized queues (core.DefaultConcurrency) for this machine
// and launches periodic sampling and rebalancing. Queues created with an
// explicit limit keep it, though memory pressure may still throttle them.
// The loops stop on Close or when ctx is done.
func (sc *SchedulerContext) Start(ctx context.Context) error {
	sc.stateMu.Lock()
	defer sc.stateMu.Unlock()
	if sc.closed {
		return errdefs.NewInvalidStateError("start", "scheduler context", "closed")
	}
	if sc.running {
		return nil
	}

	budget := sc.cfg.MemoryBudgetBytes
	if budget == 0 {
		budget = sc.monitor.Sample().ResidentMemory * 4
	}
	profile := sc.optimizer.AdaptToCapacity(runtime.NumCPU(), budget)
	sc.monitor.Start(ctx)
	if err := sc.optimizer.Start(""); err != nil {
		sc.monitor.Stop()
		return err
	}
	sc.running = true
	sc.logger.Info("scheduler context started",
		core.F("tier", profile.Tier.String()),
		core.F("maxConcurrency", profile.MaxConcurrency),
		core.F("interval", profile.MonitoringInterval.String()),
	)
	return nil
}

// Close stops the background loops, shuts the scheduler down and flushes the
// archive. It is safe to call more than once.
func (sc *SchedulerContext) Close(ctx context.Context) error {
	sc.stateMu.Lock()
	if sc.closed {
		sc.stateMu.Unlock()
		return nil
	}
	sc.closed = true
	sc.running = false
	sc.stateMu.Unlock()

	sc.optimizer.Stop()
	sc.monitor.Stop()

	var errs []error
	if err := sc.scheduler.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if sc.recorder != nil {
		if err := sc.recorder.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if sc.store != nil {
		if err := sc.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ApplyConfig applies the settings that can change at runtime: the log
// level, the monitoring interval and the monitor, detector and optimizer
// thresholds. The remaining fields only take effect on the next New, so
// Config keeps reporting their current values.
func (sc *SchedulerContext) ApplyConfig(cfg config.Options) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		if err := core.SetLogLevel(cfg.LogLevel); err != nil {
			return err
		}
	}
	sc.monitor.SetInterval(cfg.MonitoringInterval())
	sc.monitor.SetSlowTaskThreshold(cfg.SlowTaskThreshold())
	sc.detector.SetThresholds(diagnostics.Thresholds{
		StaleLock:         cfg.StaleLockThreshold(),
		StaleLockCritical: cfg.StaleLockCritical(),
		OrphanedTaskAge:   cfg.OrphanedTaskAge(),
	})
	sc.optimizer.SetMemoryPressureFraction(cfg.MemoryPressureThresholdFraction)

	sc.stateMu.Lock()
	next := sc.cfg
	next.LogLevel = cfg.LogLevel
	next.MonitoringIntervalSeconds = cfg.MonitoringIntervalSeconds
	next.SlowTaskThresholdSeconds = cfg.SlowTaskThresholdSeconds
	next.StaleLockThresholdSeconds = cfg.StaleLockThresholdSeconds
	next.StaleLockCriticalThresholdSeconds = cfg.StaleLockCriticalThresholdSeconds
	next.OrphanedTaskAgeSeconds = cfg.OrphanedTaskAgeSeconds
	next.MemoryPressureThresholdFraction = cfg.MemoryPressureThresholdFraction
	sc.cfg = next
	sc.stateMu.Unlock()
	return nil
}

// WatchConfig applies every valid update from w until ctx is done.
func (sc *SchedulerContext) WatchConfig(ctx context.Context, w *config.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-w.Updates():
			if !ok {
				return
			}
			if err := sc.ApplyConfig(cfg); err != nil {
				sc.logger.Warn("config update rejected", core.F("error", err))
				continue
			}
			sc.logger.Info("config reloaded")
		}
	}
}

// Config returns the active configuration.
func (sc *SchedulerContext) Config() config.Options {
	sc.stateMu.Lock()
	defer sc.stateMu.Unlock()
	return sc.cfg
}

func (sc *SchedulerContext) Scheduler() *core.Scheduler { return sc.scheduler }
func (sc *SchedulerContext) Primitives() *primitives.Registry { return sc.primitives }
func (sc *SchedulerContext) Monitor() *monitor.Monitor { return sc.monitor }
func (sc *SchedulerContext) Detector() *diagnostics.Detector { return sc.detector }
func (sc *SchedulerContext) Optimizer() *optimizer.Optimizer { return sc.optimizer }

// Archive returns the execution archive, or nil when none is configured.
func (sc *SchedulerContext) Archive() archive.Store { return sc.store }
