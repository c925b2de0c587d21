package dispatcher_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/dispatcher"
	"github.com/ericzhng/jobmanager/ext"
	"github.com/ericzhng/jobmanager/id"
	"github.com/ericzhng/jobmanager/job"
	"github.com/ericzhng/jobmanager/requirement"
	"github.com/ericzhng/jobmanager/work"
)

// ──────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────

// fakeRunner records submissions in order.
type fakeRunner struct {
	mu    sync.Mutex
	reqs  []*work.Request
	err   error
	block chan struct{}
}

func (r *fakeRunner) Submit(_ context.Context, req *work.Request) (id.WorkID, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return id.WorkID{}, r.err
	}
	r.reqs = append(r.reqs, req)
	return id.NewWorkID(), nil
}

func (r *fakeRunner) requests() []*work.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*work.Request(nil), r.reqs...)
}

type testJob struct {
	job.Base
	name    string
	payload string
	added   int
	serErr  error
}

func newTestJob(name string, p *job.Parameters) *testJob {
	return &testJob{Base: job.NewBase(p), name: name}
}

func (j *testJob) Name() string { return j.name }
func (j *testJob) OnAdded()     { j.added++ }

func (j *testJob) Serialize(b *job.Builder) error {
	if j.serErr != nil {
		return j.serErr
	}
	if j.payload != "" {
		b.PutString("payload", j.payload)
	}
	return nil
}

func (j *testJob) Run(context.Context) error        { return nil }
func (j *testJob) OnCanceled(context.Context) error { return nil }
func (j *testJob) OnShouldRetry(error) bool         { return false }

// failureRecorder collects SubmitFailed notifications.
type failureRecorder struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (f *failureRecorder) Name() string { return "failures" }

func (f *failureRecorder) OnSubmitFailed(_ context.Context, jobName string, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, jobName)
	f.errs = append(f.errs, err)
	return nil
}

func (f *failureRecorder) snapshot() ([]string, []error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...), append([]error(nil), f.errs...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDispatcher(t *testing.T, r dispatcher.TaskRunner, opts ...dispatcher.Option) *dispatcher.Dispatcher {
	t.Helper()
	d := dispatcher.New(r, append([]dispatcher.Option{dispatcher.WithLogger(quietLogger())}, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

func flush(t *testing.T, d *dispatcher.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestAdd_OnAddedIsSynchronous(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{})}
	d := newDispatcher(t, r)

	j := newTestJob("sync", nil)
	if err := d.Add(context.Background(), j); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// The runner is blocked, so submission cannot have happened yet, but
	// OnAdded must already have fired.
	if j.added != 1 {
		t.Fatalf("OnAdded calls = %d, want 1", j.added)
	}
	if got := len(r.requests()); got != 0 {
		t.Fatalf("submitted %d before unblocking, want 0", got)
	}
	close(r.block)
	flush(t, d)
	if got := len(r.requests()); got != 1 {
		t.Fatalf("submitted %d, want 1", got)
	}
}

func TestAdd_FIFOOrder(t *testing.T) {
	r := &fakeRunner{}
	d := newDispatcher(t, r)

	const n = 50
	for i := range n {
		name := "job-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		if err := d.Add(context.Background(), newTestJob(name, nil)); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	flush(t, d)

	reqs := r.requests()
	if len(reqs) != n {
		t.Fatalf("submitted %d, want %d", len(reqs), n)
	}
	for i, req := range reqs {
		want := "job-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		if req.JobName != want {
			t.Fatalf("reqs[%d] = %q, want %q", i, req.JobName, want)
		}
	}
}

func TestAdd_SameGroupKeepsAddOrder(t *testing.T) {
	r := &fakeRunner{}
	d := newDispatcher(t, r)

	for _, name := range []string{"sms-a", "sms-b"} {
		if err := d.Add(context.Background(), newTestJob(name, job.NewParameters(job.WithGroupID("sms")))); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}
	flush(t, d)

	reqs := r.requests()
	if len(reqs) != 2 {
		t.Fatalf("submitted %d, want 2", len(reqs))
	}
	for i, want := range []string{"sms-a", "sms-b"} {
		if reqs[i].JobName != want || reqs[i].Group != "sms" {
			t.Errorf("reqs[%d] = %s in group %q, want %s in sms", i, reqs[i].JobName, reqs[i].Group, want)
		}
	}
}

func TestAdd_ConcurrentCallersSubmitInReturnOrder(t *testing.T) {
	r := &fakeRunner{}
	d := newDispatcher(t, r)

	const callers = 16
	var (
		start    = make(chan struct{})
		serial   sync.Mutex
		returned []string
		wg       sync.WaitGroup
	)
	for i := range callers {
		name := "caller-" + string(rune('a'+i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			serial.Lock()
			defer serial.Unlock()
			if err := d.Add(context.Background(), newTestJob(name, job.NewParameters(job.WithGroupID("shared")))); err != nil {
				t.Errorf("Add(%s): %v", name, err)
				return
			}
			returned = append(returned, name)
		}()
	}
	close(start)
	wg.Wait()
	flush(t, d)

	reqs := r.requests()
	if len(reqs) != len(returned) {
		t.Fatalf("submitted %d, want %d", len(reqs), len(returned))
	}
	for i, req := range reqs {
		if req.JobName != returned[i] {
			t.Fatalf("reqs[%d] = %s, want %s (Add return order %v)", i, req.JobName, returned[i], returned)
		}
	}
}

// gatedJob blocks in OnAdded until released.
type gatedJob struct {
	*testJob
	entered chan struct{}
	release chan struct{}
}

func (g *gatedJob) OnAdded() {
	close(g.entered)
	<-g.release
	g.testJob.OnAdded()
}

func TestAdd_CloseDuringOnAddedStillSubmits(t *testing.T) {
	r := &fakeRunner{}
	d := newDispatcher(t, r)

	g := &gatedJob{
		testJob: newTestJob("gated", nil),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	addErr := make(chan error, 1)
	go func() { addErr <- d.Add(context.Background(), g) }()
	<-g.entered

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	closeErr := make(chan error, 1)
	go func() { closeErr <- d.Close(ctx) }()

	// Wait until Close has marked the dispatcher closed.
	for {
		if err := d.Flush(ctx); errors.Is(err, jobmanager.ErrDispatcherClosed) {
			break
		} else if err != nil {
			t.Fatalf("Flush: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case err := <-closeErr:
		t.Fatalf("Close returned %v before the pending Add was queued", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(g.release)
	if err := <-addErr; err != nil {
		t.Fatalf("Add = %v, want nil once OnAdded ran", err)
	}
	if err := <-closeErr; err != nil {
		t.Fatalf("Close: %v", err)
	}
	reqs := r.requests()
	if len(reqs) != 1 || reqs[0].JobName != "gated" {
		t.Fatalf("submitted %v, want the gated job", reqs)
	}
}

func TestAdd_BundleContents(t *testing.T) {
	r := &fakeRunner{}
	d := newDispatcher(t, r)

	c := requirement.NewFlag(true)
	until := time.Now().Add(time.Hour)
	j := newTestJob("upload", job.NewParameters(
		job.WithRetryUntil(until),
		job.WithNetworkRequirement(c),
		job.WithMasterSecretRequirement(c),
		job.WithGroupID("attachments"),
	))
	j.payload = "file-1"

	if err := d.Add(context.Background(), j); err != nil {
		t.Fatalf("Add: %v", err)
	}
	flush(t, d)

	req := r.requests()[0]
	data := req.Data
	if got := data.GetInt(job.KeyRetryCount, -1); got != 0 {
		t.Errorf("retry count = %d, want 0", got)
	}
	if got := data.GetInt64(job.KeyRetryUntil, 0); got != until.UnixMilli() {
		t.Errorf("retry until = %d, want %d", got, until.UnixMilli())
	}
	if !data.GetBool(job.KeyRequiresMasterSecret, false) {
		t.Error("expected master secret flag")
	}
	if !data.Has(job.KeyRequiresSQLCipher) || data.GetBool(job.KeyRequiresSQLCipher, true) {
		t.Error("expected sqlcipher flag persisted as false")
	}
	if got := data.GetString("payload", ""); got != "file-1" {
		t.Errorf("payload = %q, want file-1", got)
	}
	if !req.Constraints.RequiresNetwork {
		t.Error("expected network constraint")
	}
	if req.Group != "attachments" {
		t.Errorf("group = %q, want attachments", req.Group)
	}
}

func TestAdd_NoParameters(t *testing.T) {
	r := &fakeRunner{}
	d := newDispatcher(t, r)

	if err := d.Add(context.Background(), newTestJob("bare", nil)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	flush(t, d)

	req := r.requests()[0]
	if got := req.Data.GetInt(job.KeyRetryCount, -1); got != job.DefaultRetryCount {
		t.Errorf("retry count = %d, want %d", got, job.DefaultRetryCount)
	}
	if req.Constraints.RequiresNetwork {
		t.Error("expected no network constraint")
	}
	if req.Group != "" {
		t.Errorf("group = %q, want none", req.Group)
	}
}

func TestAdd_OversizeRejected(t *testing.T) {
	r := &fakeRunner{}
	rec := &failureRecorder{}
	exts := ext.NewRegistry(quietLogger())
	exts.Register(rec)
	d := newDispatcher(t, r, dispatcher.WithExtensions(exts))

	big := newTestJob("big", nil)
	big.payload = strings.Repeat("x", 11*1024)
	if err := d.Add(context.Background(), big); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := d.Add(context.Background(), newTestJob("small", nil)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	flush(t, d)

	reqs := r.requests()
	if len(reqs) != 1 || reqs[0].JobName != "small" {
		t.Fatalf("submitted %v, want only small", reqs)
	}
	names, errs := rec.snapshot()
	if len(names) != 1 || names[0] != "big" {
		t.Fatalf("failures = %v, want [big]", names)
	}
	if !errors.Is(errs[0], jobmanager.ErrBundleTooLarge) {
		t.Errorf("err = %v, want ErrBundleTooLarge", errs[0])
	}
}

func TestAdd_SerializeAndSubmitFailuresReported(t *testing.T) {
	boom := errors.New("boom")
	r := &fakeRunner{err: errors.New("runner down")}
	rec := &failureRecorder{}
	exts := ext.NewRegistry(quietLogger())
	exts.Register(rec)
	d := newDispatcher(t, r, dispatcher.WithExtensions(exts))

	bad := newTestJob("bad-serialize", nil)
	bad.serErr = boom
	_ = d.Add(context.Background(), bad)
	_ = d.Add(context.Background(), newTestJob("rejected", nil))
	flush(t, d)

	names, errs := rec.snapshot()
	if len(names) != 2 || names[0] != "bad-serialize" || names[1] != "rejected" {
		t.Fatalf("failures = %v", names)
	}
	if !errors.Is(errs[0], boom) {
		t.Errorf("serialize err = %v, want boom", errs[0])
	}
}

func TestClose_DrainsAndRejects(t *testing.T) {
	r := &fakeRunner{}
	d := dispatcher.New(r, dispatcher.WithLogger(quietLogger()))

	for range 5 {
		_ = d.Add(context.Background(), newTestJob("drain", nil))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := len(r.requests()); got != 5 {
		t.Fatalf("submitted %d, want 5 (drained)", got)
	}

	j := newTestJob("late", nil)
	if err := d.Add(context.Background(), j); !errors.Is(err, jobmanager.ErrDispatcherClosed) {
		t.Fatalf("Add after Close = %v, want ErrDispatcherClosed", err)
	}
	if j.added != 0 {
		t.Error("OnAdded should not fire on a closed dispatcher")
	}
	if err := d.Flush(ctx); !errors.Is(err, jobmanager.ErrDispatcherClosed) {
		t.Fatalf("Flush after Close = %v, want ErrDispatcherClosed", err)
	}
	if err := d.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestAdd_CancelledContextStillSubmits(t *testing.T) {
	r := &fakeRunner{}
	d := newDispatcher(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Add(ctx, newTestJob("detached", nil)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	flush(t, d)
	if got := len(r.requests()); got != 1 {
		t.Fatalf("submitted %d, want 1", got)
	}
}

func TestBundle_RetryPolicy(t *testing.T) {
	data, err := dispatcher.Bundle(newTestJob("b", job.NewParameters(job.WithRetryCount(3))))
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if got := data.GetInt(job.KeyRetryCount, 0); got != 3 {
		t.Errorf("retry count = %d, want 3", got)
	}
	if got := data.GetInt64(job.KeyRetryUntil, -1); got != 0 {
		t.Errorf("retry until = %d, want 0", got)
	}
}
