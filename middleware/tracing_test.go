package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/ericzhng/jobmanager/job"
	mw "github.com/ericzhng/jobmanager/middleware"
)

func newTestInv() job.Invocation {
	return job.Invocation{
		Job:     newTestJob("send-email", job.NewParameters(job.WithGroupID("mail"))),
		Attempt: 2,
	}
}

// runTraced runs inv through the tracing middleware and returns the single
// span it produced.
func runTraced(t *testing.T, inv job.Invocation, next mw.Handler) (sdktrace.ReadOnlySpan, error) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	err := mw.TracingWithTracer(tp.Tracer("test"))(context.Background(), inv, next)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	return spans[0], err
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, a := range s.Attributes() {
		m[a.Key] = a.Value
	}
	return m
}

func TestTracing_InvocationAttributes(t *testing.T) {
	tests := []struct {
		name      string
		inv       job.Invocation
		wantGroup string // "" means the attribute must be absent
	}{
		{
			name:      "grouped retry",
			inv:       newTestInv(),
			wantGroup: "mail",
		},
		{
			name: "first attempt without parameters",
			inv:  job.Invocation{Job: newTestJob("plain", nil)},
		},
		{
			name: "parameters without group",
			inv: job.Invocation{
				Job:     newTestJob("sync", job.NewParameters(job.WithRetryCount(3))),
				Attempt: 4,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span, err := runTraced(t, tt.inv, func(context.Context) error { return nil })
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if span.Name() != "jobmanager.job.run" {
				t.Errorf("span name = %q", span.Name())
			}
			if span.SpanKind() != trace.SpanKindInternal {
				t.Errorf("span kind = %v, want internal", span.SpanKind())
			}

			attrs := spanAttrs(span)
			if got := attrs["jobmanager.job.name"].AsString(); got != tt.inv.Job.Name() {
				t.Errorf("job name = %q, want %q", got, tt.inv.Job.Name())
			}
			attempt, ok := attrs["jobmanager.attempt"]
			if !ok {
				t.Fatal("attempt attribute missing")
			}
			if attempt.AsInt64() != int64(tt.inv.Attempt) {
				t.Errorf("attempt = %d, want %d", attempt.AsInt64(), tt.inv.Attempt)
			}

			group, ok := attrs["jobmanager.group"]
			switch {
			case tt.wantGroup == "" && ok:
				t.Errorf("unexpected group attribute %q", group.AsString())
			case tt.wantGroup != "" && !ok:
				t.Error("group attribute missing")
			case ok && group.AsString() != tt.wantGroup:
				t.Errorf("group = %q, want %q", group.AsString(), tt.wantGroup)
			}
		})
	}
}

func TestTracing_JobErrorMarksSpan(t *testing.T) {
	jobErr := errors.New("smtp unreachable")
	span, err := runTraced(t, newTestInv(), func(context.Context) error { return jobErr })
	if !errors.Is(err, jobErr) {
		t.Fatalf("err = %v, want the job's error", err)
	}

	if span.Status().Code != codes.Error || span.Status().Description != "smtp unreachable" {
		t.Errorf("status = %+v", span.Status())
	}
	var recorded bool
	for _, ev := range span.Events() {
		if ev.Name == "exception" {
			recorded = true
		}
	}
	if !recorded {
		t.Error("job error not recorded on the span")
	}
}

func TestTracing_SuccessMarksSpanOk(t *testing.T) {
	span, _ := runTraced(t, newTestInv(), func(context.Context) error { return nil })
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want ok", span.Status().Code)
	}
}

func TestTracing_JobRunsInsideSpan(t *testing.T) {
	var inner trace.SpanContext
	span, _ := runTraced(t, newTestInv(), func(ctx context.Context) error {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})
	if inner.SpanID() != span.SpanContext().SpanID() {
		t.Error("job did not see the run span in its context")
	}
}

func TestTracing_GlobalNoopProvider(t *testing.T) {
	var ran bool
	err := mw.Tracing()(context.Background(), newTestInv(), func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("ran = %v, err = %v", ran, err)
	}
}
