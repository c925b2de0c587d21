package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericzhng/jobmanager/id"
	"github.com/ericzhng/jobmanager/job"
	"github.com/ericzhng/jobmanager/work"
)

// entry pairs a hook implementation with the extension name captured at
// registration time, so emit methods never type-assert back to Extension.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobAdded       []entry[JobAdded]
	workSubmitted  []entry[WorkSubmitted]
	submitFailed   []entry[SubmitFailed]
	attemptStarted []entry[AttemptStarted]
	workSucceeded  []entry[WorkSucceeded]
	workRetrying   []entry[WorkRetrying]
	workFailed     []entry[WorkFailed]
	workCancelled  []entry[WorkCancelled]
	workStopped    []entry[WorkStopped]
	shutdown       []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobAdded); ok {
		r.jobAdded = append(r.jobAdded, entry[JobAdded]{name, h})
	}
	if h, ok := e.(WorkSubmitted); ok {
		r.workSubmitted = append(r.workSubmitted, entry[WorkSubmitted]{name, h})
	}
	if h, ok := e.(SubmitFailed); ok {
		r.submitFailed = append(r.submitFailed, entry[SubmitFailed]{name, h})
	}
	if h, ok := e.(AttemptStarted); ok {
		r.attemptStarted = append(r.attemptStarted, entry[AttemptStarted]{name, h})
	}
	if h, ok := e.(WorkSucceeded); ok {
		r.workSucceeded = append(r.workSucceeded, entry[WorkSucceeded]{name, h})
	}
	if h, ok := e.(WorkRetrying); ok {
		r.workRetrying = append(r.workRetrying, entry[WorkRetrying]{name, h})
	}
	if h, ok := e.(WorkFailed); ok {
		r.workFailed = append(r.workFailed, entry[WorkFailed]{name, h})
	}
	if h, ok := e.(WorkCancelled); ok {
		r.workCancelled = append(r.workCancelled, entry[WorkCancelled]{name, h})
	}
	if h, ok := e.(WorkStopped); ok {
		r.workStopped = append(r.workStopped, entry[WorkStopped]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Submission event emitters
// ──────────────────────────────────────────────────

// EmitJobAdded notifies all extensions that implement JobAdded.
func (r *Registry) EmitJobAdded(ctx context.Context, j job.Job) {
	for _, e := range r.jobAdded {
		if err := e.hook.OnJobAdded(ctx, j); err != nil {
			r.logHookError("OnJobAdded", e.name, err)
		}
	}
}

// EmitWorkSubmitted notifies all extensions that implement WorkSubmitted.
func (r *Registry) EmitWorkSubmitted(ctx context.Context, req *work.Request, workID id.WorkID) {
	for _, e := range r.workSubmitted {
		if err := e.hook.OnWorkSubmitted(ctx, req, workID); err != nil {
			r.logHookError("OnWorkSubmitted", e.name, err)
		}
	}
}

// EmitSubmitFailed notifies all extensions that implement SubmitFailed.
func (r *Registry) EmitSubmitFailed(ctx context.Context, jobName string, submitErr error) {
	for _, e := range r.submitFailed {
		if err := e.hook.OnSubmitFailed(ctx, jobName, submitErr); err != nil {
			r.logHookError("OnSubmitFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Execution event emitters
// ──────────────────────────────────────────────────

// EmitAttemptStarted notifies all extensions that implement AttemptStarted.
func (r *Registry) EmitAttemptStarted(ctx context.Context, w *work.Work) {
	for _, e := range r.attemptStarted {
		if err := e.hook.OnAttemptStarted(ctx, w); err != nil {
			r.logHookError("OnAttemptStarted", e.name, err)
		}
	}
}

// EmitWorkSucceeded notifies all extensions that implement WorkSucceeded.
func (r *Registry) EmitWorkSucceeded(ctx context.Context, w *work.Work, elapsed time.Duration) {
	for _, e := range r.workSucceeded {
		if err := e.hook.OnWorkSucceeded(ctx, w, elapsed); err != nil {
			r.logHookError("OnWorkSucceeded", e.name, err)
		}
	}
}

// EmitWorkRetrying notifies all extensions that implement WorkRetrying.
func (r *Registry) EmitWorkRetrying(ctx context.Context, w *work.Work, attempt int, nextRunAt time.Time) {
	for _, e := range r.workRetrying {
		if err := e.hook.OnWorkRetrying(ctx, w, attempt, nextRunAt); err != nil {
			r.logHookError("OnWorkRetrying", e.name, err)
		}
	}
}

// EmitWorkFailed notifies all extensions that implement WorkFailed.
func (r *Registry) EmitWorkFailed(ctx context.Context, w *work.Work, workErr error) {
	for _, e := range r.workFailed {
		if err := e.hook.OnWorkFailed(ctx, w, workErr); err != nil {
			r.logHookError("OnWorkFailed", e.name, err)
		}
	}
}

// EmitWorkCancelled notifies all extensions that implement WorkCancelled.
func (r *Registry) EmitWorkCancelled(ctx context.Context, w *work.Work) {
	for _, e := range r.workCancelled {
		if err := e.hook.OnWorkCancelled(ctx, w); err != nil {
			r.logHookError("OnWorkCancelled", e.name, err)
		}
	}
}

// EmitWorkStopped notifies all extensions that implement WorkStopped.
func (r *Registry) EmitWorkStopped(ctx context.Context, w *work.Work) {
	for _, e := range r.workStopped {
		if err := e.hook.OnWorkStopped(ctx, w); err != nil {
			r.logHookError("OnWorkStopped", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
