package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Swind/go-taskkit/core"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	m, err := NewMetrics(p.Meter)
	require.NoError(t, err)
	m.RecordTaskPanic("io", "boom")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, Exporter: "zipkin"})
	assert.Error(t, err)
}

func TestInit_StdoutWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := Init(context.Background(), Config{Enabled: true, Writer: &buf})
	require.NoError(t, err)

	_, span := p.Tracer.Start(context.Background(), "probe")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name":"probe"`)
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is %T", m.Name, m.Data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_WithScheduler(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none", MetricReader: reader})
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()
	metrics, err := NewMetrics(p.Meter)
	require.NoError(t, err)

	s := core.NewScheduler(&core.Config{
		Logger:  core.NewNoOpLogger(),
		Metrics: metrics,
		Tracer:  tp.Tracer(ScopeName),
	})
	defer func() { _ = s.Shutdown(context.Background()) }()
	_, err = s.CreateQueue("io", core.Concurrent, core.QoSDefault, 2)
	require.NoError(t, err)

	tasks := []*core.Task{
		core.NewTask("a", func(ctx context.Context) error { return nil }),
		core.NewTask("b", func(ctx context.Context) error { return nil }),
	}
	_, err = s.ExecuteBatch(context.Background(), "io", tasks)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := collect(t, reader)["taskkit.task.executions"]
		return ok && sumOf(t, got) == 2
	}, time.Second, 5*time.Millisecond)
	got := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, got["taskkit.queue.events"]))

	require.Eventually(t, func() bool { return len(recorder.Ended()) == 2 }, time.Second, 5*time.Millisecond)
	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.ElementsMatch(t, []string{"task a", "task b"}, names)
}
