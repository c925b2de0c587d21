package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ericzhng/jobmanager/job"
)

// tracerName is the instrumentation scope name for jobmanager tracing.
const tracerName = "github.com/ericzhng/jobmanager"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: jobmanager.job.name, jobmanager.attempt and,
// for grouped jobs, jobmanager.group.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, inv job.Invocation, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("jobmanager.job.name", inv.Job.Name()),
			attribute.Int("jobmanager.attempt", inv.Attempt),
		}
		if p := inv.Job.Parameters(); p != nil && p.GroupID() != "" {
			attrs = append(attrs, attribute.String("jobmanager.group", p.GroupID()))
		}

		ctx, span := tracer.Start(ctx, "jobmanager.job.run",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
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
