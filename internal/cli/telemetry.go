package cli

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	taskkit "github.com/Swind/go-taskkit"
	obsotel "github.com/Swind/go-taskkit/observability/otel"
	obsprom "github.com/Swind/go-taskkit/observability/prometheus"
)

type telemetryFlags struct {
	metricsAddr string
	trace       bool
}

// telemetry holds the exporters selected by flags.
type telemetry struct {
	poller   *obsprom.SnapshotPoller
	server   *http.Server
	provider *obsotel.Provider
}

// setup adds the selected exporters to opts. The returned telemetry must be
// attached with attach once the context exists and closed on exit.
func (f telemetryFlags) setup(ctx context.Context, opts *taskkit.Options, traceOut io.Writer) (*telemetry, error) {
	tel := &telemetry{}

	if f.trace {
		p, err := obsotel.Init(ctx, obsotel.Config{
			Enabled:     true,
			ServiceName: "taskkit",
			Exporter:    "stdout",
			Writer:      traceOut,
		})
		if err != nil {
			return nil, err
		}
		m, err := obsotel.NewMetrics(p.Meter)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
		tel.provider = p
		opts.Tracer = p.Tracer
		opts.Metrics = append(opts.Metrics, m)
	}

	if f.metricsAddr != "" {
		reg := prom.NewRegistry()
		exporter, err := obsprom.NewMetricsExporter("", reg, obsprom.ExporterOptions{})
		if err != nil {
			return nil, err
		}
		poller, err := obsprom.NewSnapshotPoller(reg, time.Second)
		if err != nil {
			return nil, err
		}
		opts.Metrics = append(opts.Metrics, exporter)
		tel.poller = poller

		ln, err := net.Listen("tcp", f.metricsAddr)
		if err != nil {
			return nil, err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		tel.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			_ = tel.server.Serve(ln)
		}()
	}
	return tel, nil
}

func (t *telemetry) attach(ctx context.Context, sc *taskkit.SchedulerContext) {
	if t.poller == nil {
		return
	}
	t.poller.SetQueues(sc.Scheduler())
	t.poller.SetPrimitives(sc.Primitives())
	t.poller.Start(ctx)
}

func (t *telemetry) close(ctx context.Context) error {
	var errs []error
	if t.poller != nil {
		t.poller.Stop()
	}
	if t.server != nil {
		errs = append(errs, t.server.Shutdown(ctx))
	}
	if t.provider != nil {
		errs = append(errs, t.provider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
