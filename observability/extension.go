package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ericzhng/jobmanager/ext"
	"github.com/ericzhng/jobmanager/id"
	"github.com/ericzhng/jobmanager/job"
	"github.com/ericzhng/jobmanager/work"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobAdded       = (*MetricsExtension)(nil)
	_ ext.WorkSubmitted  = (*MetricsExtension)(nil)
	_ ext.SubmitFailed   = (*MetricsExtension)(nil)
	_ ext.AttemptStarted = (*MetricsExtension)(nil)
	_ ext.WorkSucceeded  = (*MetricsExtension)(nil)
	_ ext.WorkRetrying   = (*MetricsExtension)(nil)
	_ ext.WorkFailed     = (*MetricsExtension)(nil)
	_ ext.WorkCancelled  = (*MetricsExtension)(nil)
	_ ext.WorkStopped    = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope name for lifecycle counters.
const meterName = "github.com/ericzhng/jobmanager/observability"

// MetricsExtension records system-wide lifecycle counters via an OTel
// meter. Every counter carries a job_name attribute.
type MetricsExtension struct {
	JobAdded       metric.Int64Counter
	WorkSubmitted  metric.Int64Counter
	SubmitFailed   metric.Int64Counter
	AttemptStarted metric.Int64Counter
	WorkSucceeded  metric.Int64Counter
	WorkRetried    metric.Int64Counter
	WorkFailed     metric.Int64Counter
	WorkCancelled  metric.Int64Counter
	WorkStopped    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. On instrument errors the OTel API hands back noop counters.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		JobAdded:       counter("jobmanager.job.added", "Jobs handed to a dispatcher"),
		WorkSubmitted:  counter("jobmanager.work.submitted", "Jobs submitted to the task runner"),
		SubmitFailed:   counter("jobmanager.work.submit_failed", "Jobs that could not be serialized or submitted"),
		AttemptStarted: counter("jobmanager.work.started", "Attempts started by a worker"),
		WorkSucceeded:  counter("jobmanager.work.succeeded", "Work items that succeeded"),
		WorkRetried:    counter("jobmanager.work.retried", "Attempts that ended in a scheduled retry"),
		WorkFailed:     counter("jobmanager.work.failed", "Work items that failed"),
		WorkCancelled:  counter("jobmanager.work.cancelled", "Work items cancelled from outside"),
		WorkStopped:    counter("jobmanager.work.stopped", "Attempts interrupted by shutdown"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttr(name string) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_name", name))
}

// ── Submission hooks ────────────────────────────────

// OnJobAdded implements ext.JobAdded.
func (m *MetricsExtension) OnJobAdded(ctx context.Context, j job.Job) error {
	m.JobAdded.Add(ctx, 1, jobAttr(j.Name()))
	return nil
}

// OnWorkSubmitted implements ext.WorkSubmitted.
func (m *MetricsExtension) OnWorkSubmitted(ctx context.Context, req *work.Request, _ id.WorkID) error {
	m.WorkSubmitted.Add(ctx, 1, jobAttr(req.JobName))
	return nil
}

// OnSubmitFailed implements ext.SubmitFailed.
func (m *MetricsExtension) OnSubmitFailed(ctx context.Context, jobName string, _ error) error {
	m.SubmitFailed.Add(ctx, 1, jobAttr(jobName))
	return nil
}

// ── Execution hooks ─────────────────────────────────

// OnAttemptStarted implements ext.AttemptStarted.
func (m *MetricsExtension) OnAttemptStarted(ctx context.Context, w *work.Work) error {
	m.AttemptStarted.Add(ctx, 1, jobAttr(w.JobName))
	return nil
}

// OnWorkSucceeded implements ext.WorkSucceeded.
func (m *MetricsExtension) OnWorkSucceeded(ctx context.Context, w *work.Work, _ time.Duration) error {
	m.WorkSucceeded.Add(ctx, 1, jobAttr(w.JobName))
	return nil
}

// OnWorkRetrying implements ext.WorkRetrying.
func (m *MetricsExtension) OnWorkRetrying(ctx context.Context, w *work.Work, _ int, _ time.Time) error {
	m.WorkRetried.Add(ctx, 1, jobAttr(w.JobName))
	return nil
}

// OnWorkFailed implements ext.WorkFailed.
func (m *MetricsExtension) OnWorkFailed(ctx context.Context, w *work.Work, _ error) error {
	m.WorkFailed.Add(ctx, 1, jobAttr(w.JobName))
	return nil
}

// OnWorkCancelled implements ext.WorkCancelled.
func (m *MetricsExtension) OnWorkCancelled(ctx context.Context, w *work.Work) error {
	m.WorkCancelled.Add(ctx, 1, jobAttr(w.JobName))
	return nil
}

// OnWorkStopped implements ext.WorkStopped.
func (m *MetricsExtension) OnWorkStopped(ctx context.Context, w *work.Work) error {
	m.WorkStopped.Add(ctx, 1, jobAttr(w.JobName))
	return nil
}
