package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/timeli/job"
)

// instrumentationName is the scope name for timeli traces and metrics.
const instrumentationName = "github.com/xraph/timeli"

// Tracing returns middleware that wraps job execution in an OpenTelemetry
// span using the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// Span attributes: timeli.job.id, timeli.job.kind, timeli.queue,
// timeli.attempt, timeli.tenant_id.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "timeli.job.execute",
			trace.WithAttributes(
				attribute.String("timeli.job.id", j.ID),
				attribute.String("timeli.job.kind", string(j.Kind)),
				attribute.String("timeli.queue", j.Queue),
				attribute.Int("timeli.attempt", j.Attempt),
				attribute.String("timeli.tenant_id", j.TenantID),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
