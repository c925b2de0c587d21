package jobmanager

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("jobmanager: no store configured")
	ErrStoreClosed     = errors.New("jobmanager: store closed")
	ErrMigrationFailed = errors.New("jobmanager: migration failed")

	// Not found errors.
	ErrWorkNotFound      = errors.New("jobmanager: work not found")
	ErrJobNotRegistered  = errors.New("jobmanager: job not registered")
	ErrWorkAlreadyExists = errors.New("jobmanager: work already exists")

	// State errors.
	ErrInvalidState     = errors.New("jobmanager: invalid state transition")
	ErrDispatcherClosed = errors.New("jobmanager: dispatcher closed")
	ErrRunnerStopped    = errors.New("jobmanager: runner stopped")
	ErrWorkCancelled    = errors.New("jobmanager: work cancelled")

	// Lifecycle outcomes. These are never returned by the driver; they tag
	// the reason a job ended up retried or canceled in logs and hooks.
	ErrRetryExhausted   = errors.New("jobmanager: retry budget exhausted")
	ErrRequirementUnmet = errors.New("jobmanager: requirement not met")

	// ErrHookFailed wraps an error returned by Initialize, OnRetry or
	// OnCanceled. It is the only error the driver propagates.
	ErrHookFailed = errors.New("jobmanager: job hook failed")

	// Bundle errors.
	ErrBundleTooLarge = errors.New("jobmanager: bundle exceeds maximum size")
)
