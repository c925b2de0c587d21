package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/requirement"
)

// Driver decides, for one attempt, whether a job is canceled, deferred or
// run, and calls the matching lifecycle hook. It holds no per-job state and
// is safe for concurrent use.
type Driver struct {
	logger    *slog.Logger
	now       func() time.Time
	intercept Interceptor
	flagReqs  []flagRequirement
}

type flagRequirement struct {
	key string
	req requirement.Requirement
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithLogger sets the logger used for attempt outcomes.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) { d.logger = l }
}

// WithClock replaces time.Now for retry-deadline checks.
func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) { d.now = now }
}

// WithInterceptor wraps the call into Run. Compose several with a
// middleware chain before passing it here.
func WithInterceptor(i Interceptor) DriverOption {
	return func(d *Driver) { d.intercept = i }
}

// WithFlagRequirement checks r after the job's own requirements whenever
// the boolean bundle entry key is true. It is how KeyRequiresMasterSecret
// and KeyRequiresSQLCipher are enforced for a rebuilt job.
func WithFlagRequirement(key string, r requirement.Requirement) DriverOption {
	return func(d *Driver) {
		if r != nil {
			d.flagReqs = append(d.flagReqs, flagRequirement{key: key, req: r})
		}
	}
}

// NewDriver returns a Driver.
func NewDriver(opts ...DriverOption) *Driver {
	d := &Driver{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Drive runs one attempt of j. attempt is the number of attempts already
// made, starting at 0.
//
// The returned error is non-nil only when a lifecycle hook (Initialize,
// OnRetry, OnCanceled) failed; it wraps jobmanager.ErrHookFailed. Errors
// from Run are consumed here and turned into a Result.
//
// If ctx is done before the decision starts or once Run returns, the
// attempt counts as aborted from outside: Drive calls Stop instead of
// deciding, and reports ResultStopped.
func (d *Driver) Drive(ctx context.Context, j Job, data Data, attempt int) (Result, error) {
	if err := j.Initialize(data); err != nil {
		return ResultFailure, hookError(j, "initialize", err)
	}

	if ctx.Err() != nil {
		return d.stop(ctx, j, attempt)
	}

	if !d.withinRetryLimits(data, attempt) {
		d.logger.Warn("job retry limit reached",
			slog.String("job_name", j.Name()),
			slog.Int("attempt", attempt),
			slog.String("reason", jobmanager.ErrRetryExhausted.Error()),
		)
		return d.cancel(ctx, j)
	}

	if !d.requirementsMet(j, data) {
		d.logger.Debug("job requirements not met",
			slog.String("job_name", j.Name()),
			slog.Int("attempt", attempt),
			slog.String("reason", jobmanager.ErrRequirementUnmet.Error()),
		)
		return d.retry(ctx, j)
	}

	err := d.run(ctx, Invocation{Job: j, Attempt: attempt})
	if ctx.Err() != nil {
		return d.stop(ctx, j, attempt)
	}
	if err == nil {
		return ResultSuccess, nil
	}

	if j.OnShouldRetry(err) {
		d.logger.Info("job failed, will retry",
			slog.String("job_name", j.Name()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return d.retry(ctx, j)
	}

	d.logger.Warn("job failed permanently",
		slog.String("job_name", j.Name()),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
	return d.cancel(ctx, j)
}

// Stop handles cancellation requested from outside while an attempt may be
// in progress. It only calls OnCanceled; the retry and requirement logic is
// not consulted.
func (d *Driver) Stop(ctx context.Context, j Job) error {
	if err := j.OnCanceled(ctx); err != nil {
		return hookError(j, "on canceled", err)
	}
	return nil
}

func (d *Driver) stop(ctx context.Context, j Job, attempt int) (Result, error) {
	d.logger.Info("job stopped",
		slog.String("job_name", j.Name()),
		slog.Int("attempt", attempt),
		slog.String("reason", context.Cause(ctx).Error()),
	)
	return ResultStopped, d.Stop(context.WithoutCancel(ctx), j)
}

func (d *Driver) run(ctx context.Context, inv Invocation) error {
	next := inv.Job.Run
	if d.intercept == nil {
		return next(ctx)
	}
	return d.intercept(ctx, inv, next)
}

func (d *Driver) retry(ctx context.Context, j Job) (Result, error) {
	if err := j.OnRetry(ctx); err != nil {
		return ResultRetry, hookError(j, "on retry", err)
	}
	return ResultRetry, nil
}

func (d *Driver) cancel(ctx context.Context, j Job) (Result, error) {
	if err := j.OnCanceled(ctx); err != nil {
		return ResultFailure, hookError(j, "on canceled", err)
	}
	return ResultFailure, nil
}

func (d *Driver) withinRetryLimits(data Data, attempt int) bool {
	if retryCount := data.GetInt(KeyRetryCount, 0); retryCount > 0 {
		return attempt <= retryCount
	}
	return d.now().UnixMilli() < data.GetInt64(KeyRetryUntil, 0)
}

func (d *Driver) requirementsMet(j Job, data Data) bool {
	if p := j.Parameters(); p != nil {
		for _, r := range p.requirements {
			if !r.IsPresent(j) {
				return false
			}
		}
	}
	for _, fr := range d.flagReqs {
		if data.GetBool(fr.key, false) && !fr.req.IsPresent(j) {
			return false
		}
	}
	return true
}

func hookError(j Job, hook string, err error) error {
	return fmt.Errorf("job %s: %s: %w: %w", j.Name(), hook, jobmanager.ErrHookFailed, err)
}
