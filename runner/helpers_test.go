package runner_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ericzhng/jobmanager/dispatcher"
	"github.com/ericzhng/jobmanager/job"
	"github.com/ericzhng/jobmanager/work"
)

var errTransient = errors.New("transient")

// tally is the shared state behind every tallyJob built by one factory.
type tally struct {
	mu sync.Mutex

	failFirst   int  // Run fails this many times before succeeding
	shouldRetry bool // OnShouldRetry answer
	block       bool // Run waits for its context
	cancelErr   error
	onRetry     func() // called from OnRetry, outside the lock

	runs, retries, cancels int
	inFlight, maxInFlight  int
	order                  []string

	started chan struct{}
}

func newTally() *tally {
	return &tally{started: make(chan struct{}, 64)}
}

func (p *tally) counts() (runs, retries, cancels int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs, p.retries, p.cancels
}

func (p *tally) runOrder() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

func (p *tally) peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInFlight
}

// tallyJob reports its lifecycle to a tally. Its label survives
// serialization so runs can be told apart.
type tallyJob struct {
	job.Base
	p     *tally
	label string
	hold  time.Duration
}

func (j *tallyJob) Name() string { return "tally" }

func (j *tallyJob) Serialize(b *job.Builder) error {
	b.PutString("label", j.label)
	b.PutInt64("hold_ms", j.hold.Milliseconds())
	return nil
}

func (j *tallyJob) Initialize(d job.Data) error {
	j.label = d.GetString("label", "")
	j.hold = time.Duration(d.GetInt64("hold_ms", 0)) * time.Millisecond
	return nil
}

func (j *tallyJob) Run(ctx context.Context) error {
	p := j.p
	p.mu.Lock()
	p.runs++
	n := p.runs
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	p.order = append(p.order, j.label)
	block := p.block
	fail := n <= p.failFirst
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	select {
	case p.started <- struct{}{}:
	default:
	}

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if j.hold > 0 {
		time.Sleep(j.hold)
	}
	if fail {
		return errTransient
	}
	return nil
}

func (j *tallyJob) OnRetry(context.Context) error {
	j.p.mu.Lock()
	j.p.retries++
	hook := j.p.onRetry
	j.p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (j *tallyJob) OnCanceled(context.Context) error {
	j.p.mu.Lock()
	defer j.p.mu.Unlock()
	j.p.cancels++
	return j.p.cancelErr
}

func (j *tallyJob) OnShouldRetry(error) bool {
	j.p.mu.Lock()
	defer j.p.mu.Unlock()
	return j.p.shouldRetry
}

func registerTally(reg *job.Registry, p *tally) {
	reg.Register("tally", func() job.Job { return &tallyJob{p: p} })
}

// request builds the request a dispatcher would submit for j.
func request(t *testing.T, j job.Job) *work.Request {
	t.Helper()
	data, err := dispatcher.Bundle(j)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	req := &work.Request{JobName: j.Name(), Data: data}
	if p := j.Parameters(); p != nil {
		req.Group = p.GroupID()
		req.Constraints.RequiresNetwork = p.RequiresNetwork()
	}
	return req
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or five seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// eventRecorder records execution events by name.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) Name() string { return "recorder" }

func (r *eventRecorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *eventRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *eventRecorder) OnAttemptStarted(context.Context, *work.Work) error {
	r.add("started")
	return nil
}

func (r *eventRecorder) OnWorkSucceeded(context.Context, *work.Work, time.Duration) error {
	r.add("succeeded")
	return nil
}

func (r *eventRecorder) OnWorkRetrying(context.Context, *work.Work, int, time.Time) error {
	r.add("retrying")
	return nil
}

func (r *eventRecorder) OnWorkFailed(context.Context, *work.Work, error) error {
	r.add("failed")
	return nil
}

func (r *eventRecorder) OnWorkCancelled(context.Context, *work.Work) error {
	r.add("cancelled")
	return nil
}

func (r *eventRecorder) OnWorkStopped(context.Context, *work.Work) error {
	r.add("stopped")
	return nil
}
