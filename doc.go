// Package jobmanager is a job-execution harness for deferred, retryable work.
//
// A job carries its own retry policy (a run-attempt budget or a wall-clock
// deadline), a list of requirements that must hold before each attempt, and
// a durable key/value bundle from which it can be rebuilt after a process
// restart.
//
// # Quick Start
//
//	eng, err := engine.New(memory.New(),
//	    engine.WithConcurrency(4),
//	    engine.WithNetwork(netFlag),
//	)
//	eng.Register("push-message", func() job.Job { return newPushJob(client, netFlag) })
//	_ = eng.Start(ctx)
//	_ = eng.Add(ctx, newPushJob(client, netFlag).For(msgID))
//
// # Architecture
//
// The job package holds the lifecycle driver: given a persisted bundle and
// the current attempt number it decides whether to run, retry or cancel a
// job. The dispatcher package turns freshly created jobs into durable work
// requests and submits them, in call order, to a task runner. The runner
// package is a reference task runner backed by a pluggable work store.
package jobmanager
