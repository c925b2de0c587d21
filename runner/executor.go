// Package runner is a local task runner: it persists submitted work in a
// work.Store, and a Pool of workers claims and executes it through an
// Executor that drives each attempt with job.Driver.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/backoff"
	"github.com/ericzhng/jobmanager/ext"
	"github.com/ericzhng/jobmanager/id"
	"github.com/ericzhng/jobmanager/job"
	"github.com/ericzhng/jobmanager/work"
)

// Executor runs a single attempt of a claimed work item, then records the
// outcome in the store and emits the matching lifecycle event.
type Executor struct {
	registry   *job.Registry
	driver     *job.Driver
	extensions *ext.Registry
	store      work.Store
	backoff    backoff.Strategy
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	driver *job.Driver,
	extensions *ext.Registry,
	store work.Store,
	bo backoff.Strategy,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		registry:   registry,
		driver:     driver,
		extensions: extensions,
		store:      store,
		backoff:    bo,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs one attempt of w.
//
// The job is rebuilt from the registry and driven with w.RunAttemptCount.
// On success: marks succeeded, emits WorkSucceeded.
// On retry: increments the attempt count, re-enqueues after the backoff
// delay, emits WorkRetrying.
// On failure, hook failure or unknown job: marks failed, emits WorkFailed.
//
// An attempt aborted through ctx has already had its OnCanceled hook called
// by the driver. When the cancel cause is ErrWorkCancelled the item becomes
// cancelled; otherwise it goes back to enqueued without consuming an
// attempt. A cancellation that arrives after the job asked for a retry
// still cancels the item, and OnCanceled is called for it.
func (e *Executor) Execute(ctx context.Context, w *work.Work) error {
	// Outcomes are recorded even when ctx was cancelled.
	detached := context.WithoutCancel(ctx)

	j, err := e.registry.New(w.JobName)
	if err != nil {
		return e.handleFailure(detached, w, err)
	}

	start := time.Now()
	result, driveErr := e.driver.Drive(ctx, j, w.Data, w.RunAttemptCount)
	elapsed := time.Since(start)

	cancelled := errors.Is(context.Cause(ctx), jobmanager.ErrWorkCancelled)

	switch {
	case result == job.ResultStopped && cancelled:
		return e.handleCancel(detached, w, driveErr)
	case result == job.ResultStopped:
		return e.handleStop(detached, w, driveErr)
	case driveErr != nil:
		return e.handleFailure(detached, w, driveErr)
	case result == job.ResultSuccess:
		return e.handleSuccess(detached, w, elapsed)
	case result == job.ResultRetry && cancelled:
		// Cancelled after the decision was taken: the job still gets its
		// cancel hook.
		return e.handleCancel(detached, w, e.driver.Stop(detached, j))
	case result == job.ResultRetry:
		return e.scheduleRetry(detached, w)
	default:
		return e.handleFailure(detached, w, nil)
	}
}

// handleSuccess marks the item as succeeded and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, w *work.Work, elapsed time.Duration) error {
	now := e.now()
	w.State = work.StateSucceeded
	w.FinishedAt = &now
	w.UpdatedAt = now

	if err := e.update(ctx, w, "success"); err != nil {
		return err
	}

	e.extensions.EmitWorkSucceeded(ctx, w, elapsed)
	return nil
}

// scheduleRetry consumes an attempt and re-enqueues the item after the
// backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, w *work.Work) error {
	now := e.now()
	w.RunAttemptCount++
	nextRunAt := backoff.NextRun(e.backoff, w.RunAttemptCount, now)
	requeue(w, nextRunAt)
	w.UpdatedAt = now

	if err := e.update(ctx, w, "retry"); err != nil {
		return err
	}

	e.extensions.EmitWorkRetrying(ctx, w, w.RunAttemptCount, nextRunAt)

	e.logger.Info("work scheduled for retry",
		slog.String("work_id", w.ID.String()),
		slog.String("job_name", w.JobName),
		slog.Int("attempt", w.RunAttemptCount),
		slog.Duration("delay", nextRunAt.Sub(now)),
	)
	return nil
}

// handleFailure marks the item as failed. cause is nil when the job
// canceled itself through its own lifecycle.
func (e *Executor) handleFailure(ctx context.Context, w *work.Work, cause error) error {
	now := e.now()
	w.State = work.StateFailed
	w.FinishedAt = &now
	w.UpdatedAt = now
	if cause != nil {
		w.LastError = cause.Error()
	}

	if err := e.update(ctx, w, "failure"); err != nil {
		return err
	}

	e.extensions.EmitWorkFailed(ctx, w, cause)

	if cause != nil {
		e.logger.Error("work failed",
			slog.String("work_id", w.ID.String()),
			slog.String("job_name", w.JobName),
			slog.Int("attempt", w.RunAttemptCount),
			slog.String("error", cause.Error()),
		)
		return fmt.Errorf("work %s: %w", w.ID, cause)
	}
	e.logger.Info("work canceled by job",
		slog.String("work_id", w.ID.String()),
		slog.String("job_name", w.JobName),
		slog.Int("attempt", w.RunAttemptCount),
	)
	return nil
}

// handleCancel marks the item cancelled. stopErr is the error from the
// job's OnCanceled hook, if any.
func (e *Executor) handleCancel(ctx context.Context, w *work.Work, stopErr error) error {
	now := e.now()
	w.State = work.StateCancelled
	w.FinishedAt = &now
	w.UpdatedAt = now
	if stopErr != nil {
		w.LastError = stopErr.Error()
	}

	if err := e.update(ctx, w, "cancel"); err != nil {
		return err
	}

	e.extensions.EmitWorkCancelled(ctx, w)
	e.logger.Info("work cancelled",
		slog.String("work_id", w.ID.String()),
		slog.String("job_name", w.JobName),
	)
	return stopErr
}

// handleStop hands the item back to the queue without consuming an
// attempt.
func (e *Executor) handleStop(ctx context.Context, w *work.Work, stopErr error) error {
	if stopErr != nil {
		e.logger.Warn("job stop hook failed",
			slog.String("work_id", w.ID.String()),
			slog.String("job_name", w.JobName),
			slog.String("error", stopErr.Error()),
		)
	}

	now := e.now()
	requeue(w, now)
	w.UpdatedAt = now

	if err := e.update(ctx, w, "stop"); err != nil {
		return err
	}

	e.extensions.EmitWorkStopped(ctx, w)
	return stopErr
}

func (e *Executor) update(ctx context.Context, w *work.Work, outcome string) error {
	if err := e.store.UpdateWork(ctx, w); err != nil {
		e.logger.Error("failed to update work",
			slog.String("work_id", w.ID.String()),
			slog.String("job_name", w.JobName),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// requeue puts w back to enqueued, runnable at runAt, with no worker.
func requeue(w *work.Work, runAt time.Time) {
	w.State = work.StateEnqueued
	w.RunAt = runAt
	w.WorkerID = id.WorkerID{}
	w.StartedAt = nil
	w.HeartbeatAt = nil
}
