package job

import (
	"context"

	"github.com/ericzhng/jobmanager/requirement"
)

// Job is a unit of deferred, possibly retried work.
//
// All state needed to resume after a process restart must go through
// Serialize and Initialize; the driver never relies on an instance
// surviving between attempts.
type Job interface {
	requirement.Job

	// Parameters returns the job's retry policy and requirements.
	// Nil means no requirements.
	Parameters() *Parameters

	// OnAdded is called once, synchronously, when the job is handed to a
	// dispatcher and before it is submitted.
	OnAdded()

	// Serialize stores the job's resumable state in b.
	Serialize(b *Builder) error

	// Initialize restores resumable state before every attempt.
	Initialize(data Data) error

	// Run executes the job.
	Run(ctx context.Context) error

	// OnRetry is called when an attempt ends and another one is wanted.
	OnRetry(ctx context.Context) error

	// OnCanceled is called when the job will not run again: its retry
	// budget ran out, OnShouldRetry declined, or the runner stopped it.
	OnCanceled(ctx context.Context) error

	// OnShouldRetry decides whether an error returned by Run is recoverable.
	OnShouldRetry(err error) bool
}

// Base provides no-op defaults for the optional parts of Job.
// Embed it and supply Name, Run, OnCanceled and OnShouldRetry.
type Base struct {
	params *Parameters
}

// NewBase returns a Base holding the given parameters (nil allowed).
func NewBase(p *Parameters) Base {
	return Base{params: p}
}

// Parameters returns the parameters passed to NewBase.
func (b Base) Parameters() *Parameters { return b.params }

// OnAdded does nothing.
func (Base) OnAdded() {}

// Serialize stores nothing.
func (Base) Serialize(*Builder) error { return nil }

// Initialize restores nothing.
func (Base) Initialize(Data) error { return nil }

// OnRetry does nothing.
func (Base) OnRetry(context.Context) error { return nil }

// Result is what an attempt reports back to the task runner.
type Result string

const (
	// ResultSuccess means the job ran to completion. Terminal.
	ResultSuccess Result = "success"
	// ResultRetry means the runner should invoke the job again later.
	ResultRetry Result = "retry"
	// ResultFailure means the job was canceled. Terminal.
	ResultFailure Result = "failure"
	// ResultStopped means the attempt was aborted from outside through its
	// context. OnCanceled was called and no retry decision was made; the
	// runner decides what happens to the work.
	ResultStopped Result = "stopped"
)

// Handler is the terminal call into a job's entry point.
type Handler func(ctx context.Context) error

// Invocation describes a single attempt.
type Invocation struct {
	Job     Job
	Attempt int
}

// Interceptor wraps the call into a job's entry point. It must call next
// unless it is short-circuiting with an error.
type Interceptor func(ctx context.Context, inv Invocation, next Handler) error
