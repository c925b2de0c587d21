// Package ext defines the extension system for jobmanager.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, writing audit logs, updating a local index.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnWorkSucceeded(ctx context.Context, w *work.Work, elapsed time.Duration) error {
//	    log.Printf("work %s succeeded in %s", w.ID, elapsed)
//	    return nil
//	}
//
// # Submission Hooks
//
//   - [JobAdded]: a job was handed to a dispatcher
//   - [WorkSubmitted]: the dispatcher submitted the job to the task runner
//   - [SubmitFailed]: the job could not be serialized or submitted
//
// # Execution Hooks
//
//   - [AttemptStarted]: a worker claimed the item and begins an attempt
//   - [WorkSucceeded]: the job reported success
//   - [WorkRetrying]: the attempt ended and another one is scheduled
//   - [WorkFailed]: the job canceled itself or could not be run
//   - [WorkCancelled]: the item was cancelled from outside
//   - [WorkStopped]: an attempt was interrupted by shutdown and requeued
//
// # Other Hooks
//
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Register extensions before
// the engine starts; the registry is not safe for concurrent registration.
package ext
