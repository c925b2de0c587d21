// Package job defines the job contract, its immutable parameters, the
// durable data bundle, and the lifecycle driver that decides what happens
// on each attempt.
//
// # Lifecycle
//
// A job is created by application code, handed to a dispatcher (which calls
// [Job.OnAdded] and serializes it), and later rebuilt by a task runner from
// a [Registry] factory plus the persisted [Data]. The runner calls
// [Driver.Drive] once per attempt:
//
//	created → running → succeeded
//	created → running → awaiting retry → running → ...
//	created → running → canceled
//
// Awaiting retry is not a stored state: it only means the runner will call
// again later with a higher attempt number.
//
// # Defining a Job
//
// Embed [Base] for no-op defaults and implement the rest:
//
//	type pushJob struct {
//	    job.Base
//	    client *push.Client
//	    msgID  int64
//	}
//
//	func newPushJob(c *push.Client, net requirement.Condition) *pushJob {
//	    return &pushJob{
//	        Base: job.NewBase(job.NewParameters(
//	            job.WithNetworkRequirement(net),
//	            job.WithGroupID("push"),
//	            job.WithRetryDuration(24*time.Hour),
//	        )),
//	        client: c,
//	    }
//	}
//
//	func (p *pushJob) Name() string { return "push-message" }
//	func (p *pushJob) Serialize(b *job.Builder) error { b.PutInt64("msg_id", p.msgID); return nil }
//	func (p *pushJob) Initialize(d job.Data) error   { p.msgID = d.GetInt64("msg_id", 0); return nil }
//	func (p *pushJob) Run(ctx context.Context) error  { return p.client.Send(ctx, p.msgID) }
//	func (p *pushJob) OnCanceled(context.Context) error { return nil }
//	func (p *pushJob) OnShouldRetry(err error) bool   { return errors.Is(err, push.ErrUnavailable) }
//
// Register the factory so a runner can rebuild the job after a restart.
// Factories are closures, so collaborators are supplied at construction:
//
//	reg.Register("push-message", func() job.Job { return newPushJob(client, netFlag) })
package job
