package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/bundle"
	"github.com/ericzhng/jobmanager/ext"
	"github.com/ericzhng/jobmanager/id"
	"github.com/ericzhng/jobmanager/job"
	"github.com/ericzhng/jobmanager/work"
)

// TaskRunner persists and eventually executes submitted work.
type TaskRunner interface {
	Submit(ctx context.Context, req *work.Request) (id.WorkID, error)
}

// Dispatcher serializes jobs and submits them to a TaskRunner, one at a
// time, in the order they were added.
type Dispatcher struct {
	runner     TaskRunner
	extensions *ext.Registry
	codec      bundle.Codec
	logger     *slog.Logger

	mu       sync.Mutex
	tasks    []func()
	reserved int // Add calls past the closed check, not yet queued
	closed   bool
	wake     chan struct{}
	done     chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithExtensions sets the registry notified of added, submitted and failed
// jobs.
func WithExtensions(r *ext.Registry) Option {
	return func(d *Dispatcher) { d.extensions = r }
}

// WithCodec sets the codec used to measure bundles against bundle.MaxSize.
// It should match the codec of the runner's store.
func WithCodec(c bundle.Codec) Option {
	return func(d *Dispatcher) { d.codec = c }
}

// New creates a Dispatcher and starts its serial executor.
func New(runner TaskRunner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		runner: runner,
		codec:  bundle.JSON{},
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.extensions == nil {
		d.extensions = ext.NewRegistry(d.logger)
	}
	go d.loop()
	return d
}

// Add calls j.OnAdded synchronously, then queues j for submission. It only
// fails when the dispatcher is closed, in which case OnAdded is not called.
// Once OnAdded has run the job is always submitted, even if Close is called
// concurrently. Values carried by ctx reach the submission; its
// cancellation does not.
func (d *Dispatcher) Add(ctx context.Context, j job.Job) error {
	if !d.reserve() {
		return jobmanager.ErrDispatcherClosed
	}

	j.OnAdded()
	d.extensions.EmitJobAdded(ctx, j)

	submitCtx := context.WithoutCancel(ctx)

	d.mu.Lock()
	d.reserved--
	d.tasks = append(d.tasks, func() { d.submit(submitCtx, j) })
	d.signal()
	d.mu.Unlock()
	return nil
}

// Flush blocks until every job added before the call has been submitted,
// or ctx is done.
func (d *Dispatcher) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	if err := d.enqueue(func() { close(flushed) }); err != nil {
		return err
	}
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued submissions to drain, or
// for ctx to be done. Calling Close more than once is safe.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.signal()
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserve claims a slot in the queue. Close waits for reserved slots to be
// filled before the executor exits.
func (d *Dispatcher) reserve() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.reserved++
	return true
}

func (d *Dispatcher) enqueue(task func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return jobmanager.ErrDispatcherClosed
	}
	d.tasks = append(d.tasks, task)
	d.signal()
	return nil
}

// signal wakes the executor. Callers hold d.mu.
func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// loop is the serial executor. It runs queued tasks one at a time and
// exits once closed and drained.
func (d *Dispatcher) loop() {
	defer close(d.done)

	for {
		d.mu.Lock()
		if len(d.tasks) == 0 {
			drained := d.closed && d.reserved == 0
			d.mu.Unlock()
			if drained {
				return
			}
			<-d.wake
			continue
		}
		task := d.tasks[0]
		d.tasks[0] = nil
		d.tasks = d.tasks[1:]
		d.mu.Unlock()

		task()
	}
}

// submit builds the request for j and hands it to the runner.
func (d *Dispatcher) submit(ctx context.Context, j job.Job) {
	req, err := d.request(j)
	if err != nil {
		d.fail(ctx, j.Name(), err)
		return
	}

	workID, err := d.runner.Submit(ctx, req)
	if err != nil {
		d.fail(ctx, j.Name(), fmt.Errorf("submit: %w", err))
		return
	}

	d.logger.Debug("job submitted",
		slog.String("job_name", j.Name()),
		slog.String("work_id", workID.String()),
		slog.String("group", req.Group),
	)
	d.extensions.EmitWorkSubmitted(ctx, req, workID)
}

func (d *Dispatcher) fail(ctx context.Context, jobName string, err error) {
	d.logger.Error("job submission failed",
		slog.String("job_name", jobName),
		slog.String("error", err.Error()),
	)
	d.extensions.EmitSubmitFailed(ctx, jobName, err)
}

// request builds the work request for j: the durable bundle, the network
// constraint when the job asks for one, and the group.
func (d *Dispatcher) request(j job.Job) (*work.Request, error) {
	data, err := Bundle(j)
	if err != nil {
		return nil, err
	}
	if _, err := bundle.Encode(d.codec, data); err != nil {
		return nil, err
	}

	req := &work.Request{
		JobName: j.Name(),
		Data:    data,
	}
	if p := j.Parameters(); p != nil {
		if p.RequiresNetwork() {
			req.Constraints = work.Constraints{RequiresNetwork: true}
		}
		req.Group = p.GroupID()
	}
	return req, nil
}

// Bundle builds the durable bundle for j: its retry policy and resource
// flags, followed by whatever j.Serialize stores. Jobs without parameters
// get the default retry count; the legacy record format stored 0/0 for
// them, which cancelled such jobs on their first run.
func Bundle(j job.Job) (job.Data, error) {
	p := j.Parameters()
	if p == nil {
		p = job.NewParameters()
	}

	b := job.NewBuilder().
		PutInt(job.KeyRetryCount, p.RetryCount()).
		PutInt64(job.KeyRetryUntil, p.RetryUntilMillis()).
		PutBool(job.KeyRequiresMasterSecret, p.RequiresMasterSecret()).
		PutBool(job.KeyRequiresSQLCipher, p.RequiresSQLCipher())

	if err := j.Serialize(b); err != nil {
		return job.Data{}, fmt.Errorf("job %s: serialize: %w", j.Name(), err)
	}
	return b.Build(), nil
}
