package ext

import (
	"context"
	"time"

	"github.com/ericzhng/jobmanager/id"
	"github.com/ericzhng/jobmanager/job"
	"github.com/ericzhng/jobmanager/work"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Submission hooks
// ──────────────────────────────────────────────────

// JobAdded is called right after a job's OnAdded hook, on the caller's
// goroutine.
type JobAdded interface {
	OnJobAdded(ctx context.Context, j job.Job) error
}

// WorkSubmitted is called after the task runner accepted a submission.
type WorkSubmitted interface {
	OnWorkSubmitted(ctx context.Context, req *work.Request, workID id.WorkID) error
}

// SubmitFailed is called when a job could not be serialized or submitted.
type SubmitFailed interface {
	OnSubmitFailed(ctx context.Context, jobName string, err error) error
}

// ──────────────────────────────────────────────────
// Execution hooks
// ──────────────────────────────────────────────────

// AttemptStarted is called when a worker begins an attempt.
type AttemptStarted interface {
	OnAttemptStarted(ctx context.Context, w *work.Work) error
}

// WorkSucceeded is called after a job reports success.
type WorkSucceeded interface {
	OnWorkSucceeded(ctx context.Context, w *work.Work, elapsed time.Duration) error
}

// WorkRetrying is called when an attempt ends and another is scheduled.
// attempt is the number of attempts made so far.
type WorkRetrying interface {
	OnWorkRetrying(ctx context.Context, w *work.Work, attempt int, nextRunAt time.Time) error
}

// WorkFailed is called when an item reaches the failed state. err is nil
// when the job canceled itself through its own lifecycle.
type WorkFailed interface {
	OnWorkFailed(ctx context.Context, w *work.Work, err error) error
}

// WorkCancelled is called when an item is cancelled from outside.
type WorkCancelled interface {
	OnWorkCancelled(ctx context.Context, w *work.Work) error
}

// WorkStopped is called when shutdown interrupts an attempt and the item
// is handed back to the queue.
type WorkStopped interface {
	OnWorkStopped(ctx context.Context, w *work.Work) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
