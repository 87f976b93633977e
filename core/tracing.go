package core

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Swind/go-taskkit/core"

func (s *Scheduler) startSpan(ctx context.Context, info runInfo) (context.Context, trace.Span) {
	return s.cfg.Tracer.Start(ctx, "task "+info.name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int64("taskkit.task.id", int64(info.id)),
			attribute.String("taskkit.queue", info.queue),
			attribute.String("taskkit.qos", info.qos.String()),
			attribute.Int("taskkit.priority", info.priority),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
