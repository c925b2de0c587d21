package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/ext"
	"github.com/ericzhng/jobmanager/id"
	"github.com/ericzhng/jobmanager/requirement"
	"github.com/ericzhng/jobmanager/work"
)

// Throttle controls per-job-type rate limiting and concurrency. The pool
// calls Acquire before executing a claimed item and Release after the
// attempt ends.
type Throttle interface {
	// Acquire reports whether an attempt of jobName may start now.
	Acquire(jobName string) bool
	// Release ends an attempt started after a successful Acquire.
	Release(jobName string)
}

// activeWork is an attempt in progress on this pool.
type activeWork struct {
	id     id.WorkID
	cancel context.CancelCauseFunc
}

// Pool manages a set of concurrent worker goroutines that claim work
// items and execute them through the Executor.
type Pool struct {
	store        work.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Heartbeat / reaper configuration.
	heartbeatInterval time.Duration
	staleThreshold    time.Duration

	// Optional gates.
	throttle Throttle
	network  requirement.Condition

	stopCh     chan struct{}
	group      *errgroup.Group
	mu         sync.Mutex
	running    bool
	activeWork map[string]activeWork
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets how often idle workers poll for new work.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool sends heartbeats for
// active work. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleWorkThreshold sets the threshold after which running work
// without a heartbeat is considered stale and reaped. A zero value
// disables stale work reaping.
func WithStaleWorkThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleThreshold = d }
}

// WithThrottle sets the per-job-type rate limiter.
func WithThrottle(t Throttle) PoolOption {
	return func(p *Pool) { p.throttle = t }
}

// WithNetwork sets the connectivity condition checked against work
// constraints. Without one, the network is assumed to be up.
func WithNetwork(c requirement.Condition) PoolOption {
	return func(p *Pool) { p.network = c }
}

// NewPool creates a worker pool.
func NewPool(
	store work.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	cfg := jobmanager.DefaultConfig()
	p := &Pool{
		store:             store,
		executor:          executor,
		extensions:        extensions,
		concurrency:       cfg.Concurrency,
		pollInterval:      cfg.PollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		staleThreshold:    cfg.StaleWorkThreshold,
		workerID:          id.NewWorkerID(),
		logger:            logger,
		activeWork:        make(map[string]activeWork),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.group = new(errgroup.Group)

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.group.Go(p.dequeueLoop)
	}

	// Launch heartbeat goroutine if configured.
	if p.heartbeatInterval > 0 {
		p.group.Go(p.heartbeatLoop)
	}

	// Launch reaper goroutine if configured.
	if p.staleThreshold > 0 {
		p.group.Go(p.reaperLoop)
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If ctx is done first, active attempts are stopped and their work goes
// back to the queue without consuming an attempt.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	group := p.group
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	// Signal all workers to stop.
	close(p.stopCh)

	// Wait for completion or context deadline.
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		p.logger.Info("worker pool stopped gracefully")
		return err
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, stopping active work")
		p.cancelAll(jobmanager.ErrRunnerStopped)
		return <-done
	}
}

// Cancel stops the attempt of workID if it is running on this pool. It
// reports whether such an attempt was found.
func (p *Pool) Cancel(workID id.WorkID) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	a, ok := p.activeWork[workID.String()]
	if ok {
		a.cancel(jobmanager.ErrWorkCancelled)
	}
	return ok
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() error {
	for {
		select {
		case <-p.stopCh:
			return nil
		default:
		}

		items, err := p.store.ClaimWork(context.Background(), p.workerID, work.ClaimOpts{
			Limit:     1,
			NetworkUp: p.networkUp(),
		})
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		if len(items) == 0 {
			p.sleep()
			continue
		}

		w := items[0]

		// Check per-job rate limit and concurrency.
		if p.throttle != nil && !p.throttle.Acquire(w.JobName) {
			// Throttled: hand the item back with a small delay.
			requeue(w, time.Now().UTC().Add(p.pollInterval))
			if updateErr := p.store.UpdateWork(context.Background(), w); updateErr != nil {
				p.logger.Error("failed to re-enqueue throttled work",
					slog.String("work_id", w.ID.String()),
					slog.String("error", updateErr.Error()),
				)
			}
			p.sleep()
			continue
		}

		p.run(w)

		if p.throttle != nil {
			p.throttle.Release(w.JobName)
		}
	}
}

func (p *Pool) run(w *work.Work) {
	p.extensions.EmitAttemptStarted(context.Background(), w)

	ctx, cancel := context.WithCancelCause(context.Background())
	p.track(w.ID, cancel)
	defer func() {
		p.untrack(w.ID)
		cancel(nil)
	}()

	if err := p.executor.Execute(ctx, w); err != nil {
		p.logger.Debug("work execution failed",
			slog.String("work_id", w.ID.String()),
			slog.String("job_name", w.JobName),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) networkUp() bool {
	return p.network == nil || p.network.Satisfied()
}

// heartbeatLoop periodically sends heartbeats for all active work.
func (p *Pool) heartbeatLoop() error {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	ids := make([]id.WorkID, 0, len(p.activeWork))
	for _, a := range p.activeWork {
		ids = append(ids, a.id)
	}
	p.activeMu.Unlock()

	for _, workID := range ids {
		if err := p.store.HeartbeatWork(context.Background(), workID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("work_id", workID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically reaps stale work whose heartbeat has expired.
func (p *Pool) reaperLoop() error {
	ticker := time.NewTicker(p.staleThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			p.reapStaleWork()
		}
	}
}

func (p *Pool) reapStaleWork() {
	stale, err := p.store.ReapStaleWork(context.Background(), p.staleThreshold)
	if err != nil {
		p.logger.Error("reap stale work error", slog.String("error", err.Error()))
		return
	}

	for _, w := range stale {
		if p.isActive(w.ID) {
			continue
		}
		requeue(w, time.Now().UTC())

		if updateErr := p.store.UpdateWork(context.Background(), w); updateErr != nil {
			p.logger.Error("reap: failed to reset stale work",
				slog.String("work_id", w.ID.String()),
				slog.String("error", updateErr.Error()),
			)
			continue
		}

		p.logger.Info("reaped stale work",
			slog.String("work_id", w.ID.String()),
			slog.String("job_name", w.JobName),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) track(workID id.WorkID, cancel context.CancelCauseFunc) {
	p.activeMu.Lock()
	p.activeWork[workID.String()] = activeWork{id: workID, cancel: cancel}
	p.activeMu.Unlock()
}

func (p *Pool) untrack(workID id.WorkID) {
	p.activeMu.Lock()
	delete(p.activeWork, workID.String())
	p.activeMu.Unlock()
}

func (p *Pool) isActive(workID id.WorkID) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	_, ok := p.activeWork[workID.String()]
	return ok
}

func (p *Pool) cancelAll(cause error) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for key, a := range p.activeWork {
		p.logger.Warn("stopping active work", slog.String("work_id", key))
		a.cancel(cause)
	}
}
