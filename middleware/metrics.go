package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ericzhng/jobmanager/job"
)

// meterName is the instrumentation scope name for jobmanager metrics.
const meterName = "github.com/ericzhng/jobmanager"

// Metrics returns middleware that records per-job execution metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - jobmanager.job.duration (Float64Histogram): run time in seconds,
//     with attributes: job_name, status ("ok" or "error")
//   - jobmanager.job.runs (Int64Counter): total runs,
//     with attributes: job_name, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"jobmanager.job.duration",
		metric.WithDescription("Duration of job runs in seconds"),
		metric.WithUnit("s"),
	)
	runs, _ := meter.Int64Counter(
		"jobmanager.job.runs",
		metric.WithDescription("Total number of job runs"),
		metric.WithUnit("{run}"),
	)

	return func(ctx context.Context, inv job.Invocation, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("job_name", inv.Job.Name()),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		runs.Add(ctx, 1, attrs)

		return err
	}
}
