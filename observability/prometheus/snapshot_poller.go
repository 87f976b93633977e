package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/primitives"
)

// QueueSnapshotProvider is satisfied by *core.Scheduler.
type QueueSnapshotProvider interface {
	ListQueues() []core.QueueStatus
	ActiveWorkers() int
}

// PrimitiveSnapshotProvider is satisfied by *primitives.Registry.
type PrimitiveSnapshotProvider interface {
	Snapshot() []primitives.PrimitiveState
}

// SnapshotPoller periodically exports queue and primitive snapshots into
// Prometheus gauges. Series of queues or primitives that disappear are
// deleted.
type SnapshotPoller struct {
	interval time.Duration

	srcMu      sync.RWMutex
	queues     QueueSnapshotProvider
	primitives PrimitiveSnapshotProvider

	activeWorkers    prom.Gauge
	queueReady       *prom.GaugeVec
	queueWaiting     *prom.GaugeVec
	queueRunning     *prom.GaugeVec
	queueConcurrency *prom.GaugeVec
	queueSuspended   *prom.GaugeVec
	primitiveHolders *prom.GaugeVec
	primitiveWaiters *prom.GaugeVec
	primitiveHeldFor *prom.GaugeVec

	collectMu      sync.Mutex
	seenQueues     map[string]string
	seenPrimitives map[string]string

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gaugeVec := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: defaultNamespace, Name: name, Help: help}, labels)
	}

	activeWorkers := prom.NewGauge(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "active_workers",
		Help:      "Task bodies currently executing.",
	})
	queueReady := gaugeVec("queue_ready", "Ready tasks per queue.", "queue", "qos")
	queueWaiting := gaugeVec("queue_waiting", "Tasks waiting on dependencies per queue.", "queue", "qos")
	queueRunning := gaugeVec("queue_running", "Running tasks per queue.", "queue", "qos")
	queueConcurrency := gaugeVec("queue_max_concurrency", "Effective concurrency limit per queue.", "queue", "qos")
	queueSuspended := gaugeVec("queue_suspended", "Queue suspended state (1=suspended, 0=active).", "queue", "qos")
	primitiveHolders := gaugeVec("primitive_holders", "Outstanding holds per primitive.", "name", "kind")
	primitiveWaiters := gaugeVec("primitive_waiters", "Waiters per primitive.", "name", "kind")
	primitiveHeldFor := gaugeVec("primitive_oldest_hold_seconds", "Age of the oldest hold per primitive.", "name", "kind")

	var err error
	if activeWorkers, err = registerCollector(reg, activeWorkers); err != nil {
		return nil, err
	}
	for _, vec := range []**prom.GaugeVec{
		&queueReady, &queueWaiting, &queueRunning, &queueConcurrency, &queueSuspended,
		&primitiveHolders, &primitiveWaiters, &primitiveHeldFor,
	} {
		if *vec, err = registerCollector(reg, *vec); err != nil {
			return nil, err
		}
	}

	return &SnapshotPoller{
		interval:         interval,
		activeWorkers:    activeWorkers,
		queueReady:       queueReady,
		queueWaiting:     queueWaiting,
		queueRunning:     queueRunning,
		queueConcurrency: queueConcurrency,
		queueSuspended:   queueSuspended,
		primitiveHolders: primitiveHolders,
		primitiveWaiters: primitiveWaiters,
		primitiveHeldFor: primitiveHeldFor,
		seenQueues:       make(map[string]string),
		seenPrimitives:   make(map[string]string),
	}, nil
}

// SetQueues sets the queue snapshot provider.
func (p *SnapshotPoller) SetQueues(provider QueueSnapshotProvider) {
	if p == nil {
		return
	}
	p.srcMu.Lock()
	p.queues = provider
	p.srcMu.Unlock()
}

// SetPrimitives sets the primitive snapshot provider.
func (p *SnapshotPoller) SetPrimitives(provider PrimitiveSnapshotProvider) {
	if p == nil {
		return
	}
	p.srcMu.Lock()
	p.primitives = provider
	p.srcMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.CollectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectOnce()
		}
	}
}

// CollectOnce refreshes every gauge from the current providers.
func (p *SnapshotPoller) CollectOnce() {
	p.srcMu.RLock()
	queues, prims := p.queues, p.primitives
	p.srcMu.RUnlock()

	p.collectMu.Lock()
	defer p.collectMu.Unlock()

	if queues != nil {
		p.activeWorkers.Set(float64(queues.ActiveWorkers()))
		seen := make(map[string]string)
		for _, st := range queues.ListQueues() {
			name := normalizeLabel(st.Name, "unknown")
			qos := st.QoS.String()
			seen[name] = qos
			p.queueReady.WithLabelValues(name, qos).Set(float64(st.Ready))
			p.queueWaiting.WithLabelValues(name, qos).Set(float64(st.Waiting))
			p.queueRunning.WithLabelValues(name, qos).Set(float64(st.Running))
			p.queueConcurrency.WithLabelValues(name, qos).Set(float64(st.EffectiveConcurrency()))
			p.queueSuspended.WithLabelValues(name, qos).Set(boolGauge(st.Suspended))
		}
		for name, qos := range p.seenQueues {
			if _, ok := seen[name]; !ok {
				for _, vec := range []*prom.GaugeVec{p.queueReady, p.queueWaiting, p.queueRunning, p.queueConcurrency, p.queueSuspended} {
					vec.DeleteLabelValues(name, qos)
				}
			}
		}
		p.seenQueues = seen
	}

	if prims != nil {
		now := time.Now()
		seen := make(map[string]string)
		for _, st := range prims.Snapshot() {
			kind := st.Kind.String()
			seen[st.Name] = kind
			p.primitiveHolders.WithLabelValues(st.Name, kind).Set(float64(len(st.Holds)))
			p.primitiveWaiters.WithLabelValues(st.Name, kind).Set(float64(st.Waiters))
			held := 0.0
			if h, ok := st.OldestHold(); ok {
				held = now.Sub(h.Since).Seconds()
			}
			p.primitiveHeldFor.WithLabelValues(st.Name, kind).Set(held)
		}
		for name, kind := range p.seenPrimitives {
			if _, ok := seen[name]; !ok {
				for _, vec := range []*prom.GaugeVec{p.primitiveHolders, p.primitiveWaiters, p.primitiveHeldFor} {
					vec.DeleteLabelValues(name, kind)
				}
			}
		}
		p.seenPrimitives = seen
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
