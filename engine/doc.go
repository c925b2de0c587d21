// Package engine is the application-level entry point of jobmanager.
//
// # Building an Engine
//
//	eng, err := engine.New(pgStore,
//	    engine.WithConcurrency(8),
//	    engine.WithExtension(myExtension),
//	    engine.WithBackoff(backoff.NewExponential(time.Second, time.Minute)),
//	    engine.WithNetwork(connectivity),
//	    engine.WithThrottle(throttle.Config{
//	        JobName:        "upload-attachment",
//	        MaxConcurrency: 2,
//	    }),
//	)
//
// # Registering Jobs
//
// Every job type the runner may rebuild needs a factory. The factory
// captures the collaborators the job needs:
//
//	eng.Register("send-sms", func() job.Job { return NewSendSMS(smsClient) })
//
// # Adding Jobs
//
//	err := eng.Add(ctx, NewSendSMS(smsClient).To("+15550100"))
//
// Add returns once the job's OnAdded hook has run; submission to the
// store happens in the background in the order jobs were added. Use
// [Engine.Flush] to wait for it.
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithBackoff]: set the retry backoff strategy
//   - [WithThrottle]: per-job-type rate limits and concurrency
//   - [WithNetwork], [WithMasterSecret], [WithSQLCipher]: resource conditions
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
