package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/backoff"
	"github.com/ericzhng/jobmanager/bundle"
	"github.com/ericzhng/jobmanager/dispatcher"
	"github.com/ericzhng/jobmanager/ext"
	"github.com/ericzhng/jobmanager/id"
	"github.com/ericzhng/jobmanager/job"
	mw "github.com/ericzhng/jobmanager/middleware"
	"github.com/ericzhng/jobmanager/observability"
	"github.com/ericzhng/jobmanager/requirement"
	"github.com/ericzhng/jobmanager/runner"
	"github.com/ericzhng/jobmanager/throttle"
	"github.com/ericzhng/jobmanager/work"
)

const instrumentationName = "github.com/ericzhng/jobmanager"

// Engine owns one dispatcher and one runner sharing a job registry.
// An Engine cannot be restarted once stopped: Stop closes the dispatcher.
type Engine struct {
	config     jobmanager.Config
	store      work.Store
	logger     *slog.Logger
	extensions *ext.Registry
	registry   *job.Registry
	dispatcher *dispatcher.Dispatcher
	runner     *runner.Runner
	throttle   *throttle.Manager

	exts            []ext.Extension
	mws             []mw.Middleware
	bo              backoff.Strategy
	codec           bundle.Codec
	throttleConfigs []throttle.Config
	network         requirement.Condition
	masterSecret    requirement.Condition
	sqlCipher       requirement.Condition

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg jobmanager.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithConcurrency sets the number of work items run at once.
func WithConcurrency(n int) Option {
	return func(eng *Engine) { eng.config.Concurrency = n }
}

// WithPollInterval sets how often idle workers poll the store.
func WithPollInterval(d time.Duration) Option {
	return func(eng *Engine) { eng.config.PollInterval = d }
}

// WithShutdownTimeout bounds how long Stop waits for running attempts.
func WithShutdownTimeout(d time.Duration) Option {
	return func(eng *Engine) { eng.config.ShutdownTimeout = d }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware adds middleware to the engine's chain, inside the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithCodec sets the codec used to check bundle sizes.
func WithCodec(c bundle.Codec) Option {
	return func(eng *Engine) { eng.codec = c }
}

// WithThrottle registers per-job-type rate limiting and concurrency
// configurations. Job types not listed have no limits.
func WithThrottle(configs ...throttle.Config) Option {
	return func(eng *Engine) {
		eng.throttleConfigs = append(eng.throttleConfigs, configs...)
	}
}

// WithNetwork sets the connectivity condition for work that requires a
// network.
func WithNetwork(c requirement.Condition) Option {
	return func(eng *Engine) { eng.network = c }
}

// WithMasterSecret sets the condition checked for jobs flagged as needing
// the master secret.
func WithMasterSecret(c requirement.Condition) Option {
	return func(eng *Engine) { eng.masterSecret = c }
}

// WithSQLCipher sets the condition checked for jobs flagged as needing the
// encrypted database.
func WithSQLCipher(c requirement.Condition) Option {
	return func(eng *Engine) { eng.sqlCipher = c }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine that persists work in store.
func New(store work.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, jobmanager.ErrNoStore
	}

	eng := &Engine{
		config:   jobmanager.DefaultConfig(),
		store:    store,
		logger:   slog.Default(),
		registry: job.NewRegistry(),
		codec:    bundle.JSON{},
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	// Build tracing and metrics middleware (custom provider or global).
	var tracingMw, metricsMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default stack: recover → tracing → metrics → logging → timeout.
	chain := make([]mw.Middleware, 0, 5+len(eng.mws))
	chain = append(chain,
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	)
	chain = append(chain, eng.mws...)

	driverOpts := []job.DriverOption{
		job.WithLogger(eng.logger),
		job.WithInterceptor(mw.Chain(chain...)),
	}
	if eng.masterSecret != nil {
		driverOpts = append(driverOpts, job.WithFlagRequirement(job.KeyRequiresMasterSecret, requirement.MasterSecret(eng.masterSecret)))
	}
	if eng.sqlCipher != nil {
		driverOpts = append(driverOpts, job.WithFlagRequirement(job.KeyRequiresSQLCipher, requirement.SQLCipher(eng.sqlCipher)))
	}

	poolOpts := []runner.PoolOption{}
	if len(eng.throttleConfigs) > 0 {
		eng.throttle = throttle.NewManager(eng.throttleConfigs...)
		poolOpts = append(poolOpts, runner.WithThrottle(eng.throttle))
	}
	if eng.network != nil {
		poolOpts = append(poolOpts, runner.WithNetwork(eng.network))
	}

	eng.runner = runner.New(store, eng.registry,
		runner.WithLogger(eng.logger),
		runner.WithExtensions(eng.extensions),
		runner.WithDriver(job.NewDriver(driverOpts...)),
		runner.WithBackoff(eng.bo),
		runner.WithConfig(eng.config),
		runner.WithPoolOptions(poolOpts...),
	)
	eng.dispatcher = dispatcher.New(eng.runner,
		dispatcher.WithLogger(eng.logger),
		dispatcher.WithExtensions(eng.extensions),
		dispatcher.WithCodec(eng.codec),
	)

	return eng, nil
}

// Register binds a job name to the factory the runner rebuilds it with.
func (eng *Engine) Register(name string, f job.Factory) {
	eng.registry.Register(name, f)
}

// Add hands j to the dispatcher. See dispatcher.Dispatcher.Add.
func (eng *Engine) Add(ctx context.Context, j job.Job) error {
	return eng.dispatcher.Add(ctx, j)
}

// Flush waits until every job added so far has been submitted.
func (eng *Engine) Flush(ctx context.Context) error {
	return eng.dispatcher.Flush(ctx)
}

// Cancel cancels a work item. See runner.Runner.Cancel.
func (eng *Engine) Cancel(ctx context.Context, workID id.WorkID) error {
	return eng.runner.Cancel(ctx, workID)
}

// Work returns the current state of a work item.
func (eng *Engine) Work(ctx context.Context, workID id.WorkID) (*work.Work, error) {
	return eng.runner.Work(ctx, workID)
}

// List returns work items matching opts.
func (eng *Engine) List(ctx context.Context, opts work.ListOpts) ([]*work.Work, error) {
	return eng.runner.List(ctx, opts)
}

// Start begins processing work.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.runner.Start(ctx); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}
	eng.logger.Info("engine started",
		slog.Int("concurrency", eng.config.Concurrency),
		slog.Any("jobs", eng.registry.Names()),
	)
	return nil
}

// Stop gracefully shuts down the engine. Pending submissions are drained
// first; running attempts then get up to the shutdown timeout before they
// are stopped and handed back to the queue.
func (eng *Engine) Stop(ctx context.Context) error {
	var errs []error
	if err := eng.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
	}

	stopCtx := ctx
	if eng.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}
	if err := eng.runner.Stop(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop runner: %w", err))
	}

	eng.extensions.EmitShutdown(context.WithoutCancel(ctx))
	return errors.Join(errs...)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Dispatcher returns the engine's dispatcher.
func (eng *Engine) Dispatcher() *dispatcher.Dispatcher { return eng.dispatcher }

// Runner returns the engine's reference runner.
func (eng *Engine) Runner() *runner.Runner { return eng.runner }

// Throttle returns the throttle manager, or nil if no throttle configs
// were provided.
func (eng *Engine) Throttle() *throttle.Manager { return eng.throttle }

// Config returns the effective configuration.
func (eng *Engine) Config() jobmanager.Config { return eng.config }
