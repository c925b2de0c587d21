// Package middleware provides composable interceptors around a job's Run
// call.
//
// A [Middleware] wraps the call the driver makes into a job's entry point.
// Middleware are composed into a chain using [Chain] and installed on the
// driver with job.WithInterceptor. They are applied right-to-left: the
// first middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs job name, attempt, duration, and outcome of each run
//   - [Recover]: catches panics and converts them to errors
//   - [Timeout]: cancels the run context after the job's configured timeout
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-job duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, inv job.Invocation, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting). An error returned
// without calling next is treated by the driver exactly like an error from
// Run, so OnShouldRetry decides whether it is recoverable.
package middleware
