package runner

import (
	"context"
	"fmt"
	"log/slog"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/backoff"
	"github.com/ericzhng/jobmanager/ext"
	"github.com/ericzhng/jobmanager/id"
	"github.com/ericzhng/jobmanager/job"
	"github.com/ericzhng/jobmanager/work"
)

// Runner accepts submissions from a dispatcher, persists them, and runs
// them on a worker pool.
type Runner struct {
	store      work.Store
	extensions *ext.Registry
	logger     *slog.Logger
	executor   *Executor
	pool       *Pool
}

// Option configures a Runner.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	extensions *ext.Registry
	driver     *job.Driver
	backoff    backoff.Strategy
	poolOpts   []PoolOption
}

// WithLogger sets the logger shared by the executor and the pool.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithExtensions sets the registry notified of execution events.
func WithExtensions(r *ext.Registry) Option {
	return func(o *options) { o.extensions = r }
}

// WithDriver sets the driver that runs each attempt.
func WithDriver(d *job.Driver) Option {
	return func(o *options) { o.driver = d }
}

// WithBackoff sets the delay strategy between retried attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(o *options) { o.backoff = s }
}

// WithPoolOptions forwards options to the worker pool.
func WithPoolOptions(opts ...PoolOption) Option {
	return func(o *options) { o.poolOpts = append(o.poolOpts, opts...) }
}

// WithConfig applies the runner settings of cfg to the worker pool.
func WithConfig(cfg jobmanager.Config) Option {
	return WithPoolOptions(
		WithPoolConcurrency(cfg.Concurrency),
		WithPollInterval(cfg.PollInterval),
		WithHeartbeatInterval(cfg.HeartbeatInterval),
		WithStaleWorkThreshold(cfg.StaleWorkThreshold),
	)
}

// New creates a Runner over store that rebuilds jobs from registry.
func New(store work.Store, registry *job.Registry, opts ...Option) *Runner {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.extensions == nil {
		o.extensions = ext.NewRegistry(o.logger)
	}
	if o.driver == nil {
		o.driver = job.NewDriver(job.WithLogger(o.logger))
	}
	if o.backoff == nil {
		o.backoff = backoff.DefaultStrategy()
	}

	executor := NewExecutor(registry, o.driver, o.extensions, store, o.backoff, o.logger)
	return &Runner{
		store:      store,
		extensions: o.extensions,
		logger:     o.logger,
		executor:   executor,
		pool:       NewPool(store, executor, o.extensions, o.logger, o.poolOpts...),
	}
}

// Submit persists req as a new enqueued work item and returns its ID.
func (r *Runner) Submit(ctx context.Context, req *work.Request) (id.WorkID, error) {
	if r.store == nil {
		return id.WorkID{}, jobmanager.ErrNoStore
	}
	w := work.New(req)
	if err := r.store.EnqueueWork(ctx, w); err != nil {
		return id.WorkID{}, fmt.Errorf("enqueue %s: %w", req.JobName, err)
	}
	r.logger.Debug("work enqueued",
		slog.String("work_id", w.ID.String()),
		slog.String("job_name", w.JobName),
		slog.String("group", w.Group),
	)
	return w.ID, nil
}

// Cancel cancels a work item from outside. A running attempt on this
// runner is stopped through the job's OnCanceled hook and the item
// becomes cancelled once the attempt returns. An enqueued item is
// cancelled immediately. Items in any other state yield
// jobmanager.ErrInvalidState.
func (r *Runner) Cancel(ctx context.Context, workID id.WorkID) error {
	if r.pool.Cancel(workID) {
		return nil
	}
	w, err := r.store.CancelWork(ctx, workID)
	if err != nil {
		return fmt.Errorf("cancel %s: %w", workID, err)
	}
	r.extensions.EmitWorkCancelled(ctx, w)
	r.logger.Info("work cancelled",
		slog.String("work_id", w.ID.String()),
		slog.String("job_name", w.JobName),
	)
	return nil
}

// Work returns the current state of an item.
func (r *Runner) Work(ctx context.Context, workID id.WorkID) (*work.Work, error) {
	return r.store.GetWork(ctx, workID)
}

// List returns items matching opts.
func (r *Runner) List(ctx context.Context, opts work.ListOpts) ([]*work.Work, error) {
	return r.store.ListWork(ctx, opts)
}

// Start starts the worker pool.
func (r *Runner) Start(ctx context.Context) error {
	if r.store == nil {
		return jobmanager.ErrNoStore
	}
	return r.pool.Start(ctx)
}

// Stop stops the worker pool. Attempts still running when ctx is done are
// stopped and go back to the queue.
func (r *Runner) Stop(ctx context.Context) error {
	return r.pool.Stop(ctx)
}

// Pool returns the runner's worker pool.
func (r *Runner) Pool() *Pool { return r.pool }
