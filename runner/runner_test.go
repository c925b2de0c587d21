package runner_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/backoff"
	"github.com/ericzhng/jobmanager/ext"
	"github.com/ericzhng/jobmanager/id"
	"github.com/ericzhng/jobmanager/job"
	"github.com/ericzhng/jobmanager/requirement"
	"github.com/ericzhng/jobmanager/runner"
	"github.com/ericzhng/jobmanager/store/memory"
	"github.com/ericzhng/jobmanager/throttle"
	"github.com/ericzhng/jobmanager/work"
)

func setupRunner(t *testing.T, p *tally, poolOpts ...runner.PoolOption) (*runner.Runner, *memory.Store, *eventRecorder) {
	t.Helper()
	logger := quietLogger()
	s := memory.New()
	reg := job.NewRegistry()
	registerTally(reg, p)
	events := &eventRecorder{}
	exts := ext.NewRegistry(logger)
	exts.Register(events)

	base := []runner.PoolOption{
		runner.WithPoolConcurrency(2),
		runner.WithPollInterval(5 * time.Millisecond),
		runner.WithHeartbeatInterval(0),
		runner.WithStaleWorkThreshold(0),
	}
	r := runner.New(s, reg,
		runner.WithLogger(logger),
		runner.WithExtensions(exts),
		runner.WithBackoff(backoff.NewConstant(0)),
		runner.WithPoolOptions(append(base, poolOpts...)...),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return r, s, events
}

func submit(t *testing.T, r *runner.Runner, j job.Job) id.WorkID {
	t.Helper()
	workID, err := r.Submit(context.Background(), request(t, j))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return workID
}

func stateOf(t *testing.T, r *runner.Runner, workID id.WorkID) work.State {
	t.Helper()
	w, err := r.Work(context.Background(), workID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return w.State
}

func TestPool_StartStop(t *testing.T) {
	r, _, _ := setupRunner(t, newTally())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Double stop should be no-op.
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
	// A stopped pool can be started again.
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("unexpected restart error: %v", err)
	}
}

func TestRunner_SubmitPersistsEnqueued(t *testing.T) {
	p := newTally()
	r, _, _ := setupRunner(t, p)

	workID := submit(t, r, &tallyJob{p: p, label: "a"})
	w, err := r.Work(context.Background(), workID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if w.State != work.StateEnqueued || w.RunAttemptCount != 0 {
		t.Fatalf("state = %s attempts = %d", w.State, w.RunAttemptCount)
	}
	if got := w.Data.GetString("label", ""); got != "a" {
		t.Errorf("label = %q, want a", got)
	}
}

func TestRunner_NoStore(t *testing.T) {
	r := runner.New(nil, job.NewRegistry(), runner.WithLogger(quietLogger()))
	if _, err := r.Submit(context.Background(), &work.Request{JobName: "x"}); !errors.Is(err, jobmanager.ErrNoStore) {
		t.Fatalf("Submit err = %v, want ErrNoStore", err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, jobmanager.ErrNoStore) {
		t.Fatalf("Start err = %v, want ErrNoStore", err)
	}
}

func TestPool_RetriesUntilSuccess(t *testing.T) {
	p := newTally()
	p.failFirst = 2
	p.shouldRetry = true
	r, _, events := setupRunner(t, p)

	workID := submit(t, r, &tallyJob{p: p})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "success event", func() bool {
		ev := events.list()
		return len(ev) > 0 && ev[len(ev)-1] == "succeeded"
	})

	w, _ := r.Work(context.Background(), workID)
	if w.RunAttemptCount != 2 {
		t.Errorf("RunAttemptCount = %d, want 2", w.RunAttemptCount)
	}
	want := []string{"started", "retrying", "started", "retrying", "started", "succeeded"}
	if got := events.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestPool_GroupRunsInSubmissionOrder(t *testing.T) {
	p := newTally()
	r, _, _ := setupRunner(t, p, runner.WithPoolConcurrency(4))

	labels := []string{"first", "second", "third", "fourth"}
	var ids []id.WorkID
	for _, l := range labels {
		j := &tallyJob{
			Base:  job.NewBase(job.NewParameters(job.WithGroupID("chain"))),
			p:     p,
			label: l,
			hold:  10 * time.Millisecond,
		}
		ids = append(ids, submit(t, r, j))
	}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "group to finish", func() bool { return stateOf(t, r, ids[len(ids)-1]) == work.StateSucceeded })

	if got := p.runOrder(); !reflect.DeepEqual(got, labels) {
		t.Errorf("run order = %v, want %v", got, labels)
	}
	if got := p.peak(); got != 1 {
		t.Errorf("peak in-flight within group = %d, want 1", got)
	}
}

func TestPool_GroupSuccessorRunsAfterFailure(t *testing.T) {
	p := newTally()
	p.failFirst = 1
	p.shouldRetry = false
	r, _, _ := setupRunner(t, p)

	grouped := func(label string) job.Job {
		return &tallyJob{Base: job.NewBase(job.NewParameters(job.WithGroupID("g"))), p: p, label: label}
	}
	first := submit(t, r, grouped("a"))
	second := submit(t, r, grouped("b"))

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "successor", func() bool { return stateOf(t, r, second) == work.StateSucceeded })

	if got := stateOf(t, r, first); got != work.StateFailed {
		t.Errorf("first state = %s, want failed", got)
	}
}

func TestPool_NetworkConstraint(t *testing.T) {
	p := newTally()
	online := requirement.NewFlag(false)
	r, _, _ := setupRunner(t, p, runner.WithNetwork(online))

	j := &tallyJob{Base: job.NewBase(job.NewParameters(job.WithNetworkRequirement(online))), p: p}
	workID := submit(t, r, j)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if runs, _, _ := p.counts(); runs != 0 {
		t.Fatalf("runs = %d while offline, want 0", runs)
	}
	if got := stateOf(t, r, workID); got != work.StateEnqueued {
		t.Fatalf("state = %s while offline, want enqueued", got)
	}

	online.Set(true)
	waitFor(t, "run once online", func() bool { return stateOf(t, r, workID) == work.StateSucceeded })
}

func TestPool_ThrottleCapsConcurrency(t *testing.T) {
	p := newTally()
	m := throttle.NewManager(throttle.Config{JobName: "tally", MaxConcurrency: 1})
	r, _, _ := setupRunner(t, p, runner.WithPoolConcurrency(4), runner.WithThrottle(m))

	var ids []id.WorkID
	for range 4 {
		ids = append(ids, submit(t, r, &tallyJob{p: p, hold: 15 * time.Millisecond}))
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "all done", func() bool {
		for _, workID := range ids {
			if stateOf(t, r, workID) != work.StateSucceeded {
				return false
			}
		}
		return true
	})

	if got := p.peak(); got != 1 {
		t.Errorf("peak in-flight = %d, want 1", got)
	}
	for _, workID := range ids {
		w, _ := r.Work(context.Background(), workID)
		if w.RunAttemptCount != 0 {
			t.Errorf("throttling consumed an attempt: %d", w.RunAttemptCount)
		}
	}
}

func TestRunner_CancelRunning(t *testing.T) {
	p := newTally()
	p.block = true
	r, _, events := setupRunner(t, p)

	workID := submit(t, r, &tallyJob{p: p})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-p.started

	if err := r.Cancel(context.Background(), workID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitFor(t, "cancel event", func() bool { return len(events.list()) == 2 })
	if got := stateOf(t, r, workID); got != work.StateCancelled {
		t.Fatalf("state = %s, want cancelled", got)
	}

	if _, retries, cancels := p.counts(); retries != 0 || cancels != 1 {
		t.Errorf("retries = %d cancels = %d, want 0 and 1", retries, cancels)
	}
	want := []string{"started", "cancelled"}
	if got := events.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestRunner_CancelEnqueued(t *testing.T) {
	p := newTally()
	r, _, events := setupRunner(t, p)

	workID := submit(t, r, &tallyJob{p: p})
	if err := r.Cancel(context.Background(), workID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := stateOf(t, r, workID); got != work.StateCancelled {
		t.Fatalf("state = %s, want cancelled", got)
	}
	if !reflect.DeepEqual(events.list(), []string{"cancelled"}) {
		t.Errorf("events = %v", events.list())
	}

	if err := r.Cancel(context.Background(), workID); !errors.Is(err, jobmanager.ErrInvalidState) {
		t.Fatalf("second Cancel = %v, want ErrInvalidState", err)
	}
	if err := r.Cancel(context.Background(), id.NewWorkID()); !errors.Is(err, jobmanager.ErrWorkNotFound) {
		t.Fatalf("Cancel unknown = %v, want ErrWorkNotFound", err)
	}
	if runs, _, cancels := p.counts(); runs != 0 || cancels != 0 {
		t.Errorf("runs = %d cancels = %d, want none", runs, cancels)
	}
}

func TestRunner_StopTimeoutRequeues(t *testing.T) {
	p := newTally()
	p.block = true
	r, _, events := setupRunner(t, p)

	workID := submit(t, r, &tallyJob{p: p})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-p.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	w, err := r.Work(context.Background(), workID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if w.State != work.StateEnqueued || w.RunAttemptCount != 0 {
		t.Fatalf("state = %s attempts = %d, want enqueued and 0", w.State, w.RunAttemptCount)
	}
	if _, _, cancels := p.counts(); cancels != 1 {
		t.Errorf("cancels = %d, want 1", cancels)
	}
	want := []string{"started", "stopped"}
	if got := events.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestPool_ReapsStaleWork(t *testing.T) {
	p := newTally()
	r, s, _ := setupRunner(t, p, runner.WithStaleWorkThreshold(20*time.Millisecond))

	// Simulate a worker that claimed the item and died.
	workID := submit(t, r, &tallyJob{p: p})
	ctx := context.Background()
	items, err := s.ClaimWork(ctx, id.NewWorkerID(), work.ClaimOpts{Limit: 1, NetworkUp: true})
	if err != nil || len(items) != 1 {
		t.Fatalf("claim: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	items[0].HeartbeatAt = &old
	if err := s.UpdateWork(ctx, items[0]); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "reaped work to run", func() bool { return stateOf(t, r, workID) == work.StateSucceeded })
}
