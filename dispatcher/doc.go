// Package dispatcher hands jobs to a task runner.
//
// [Dispatcher.Add] fires the job's OnAdded hook on the caller's goroutine,
// then queues a submission on a single serial executor owned by the
// dispatcher. Submissions run strictly in the order they were added. Each
// one builds the job's durable bundle, derives the runner constraints and
// group from the job's parameters, and calls [TaskRunner.Submit].
//
//	d := dispatcher.New(runner, dispatcher.WithExtensions(exts))
//	defer d.Close(ctx)
//
//	if err := d.Add(ctx, NewSendSMS("+15550100", "hi")); err != nil {
//	    return err
//	}
//
// Add is fire-and-forget: serialization and submission failures are logged
// and reported through ext.SubmitFailed, never returned to the caller.
package dispatcher
