package jobmanager

import "time"

// Config holds configuration for the engine and its reference runner.
type Config struct {
	// Concurrency is the maximum number of work items executed concurrently.
	Concurrency int

	// PollInterval is how often idle workers poll the store for work.
	PollInterval time.Duration

	// ShutdownTimeout bounds how long Stop waits for in-flight attempts
	// before stopping them.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running work sends heartbeats.
	HeartbeatInterval time.Duration

	// StaleWorkThreshold is how long running work may go without a heartbeat
	// before it is handed back to the queue.
	StaleWorkThreshold time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        4,
		PollInterval:       500 * time.Millisecond,
		ShutdownTimeout:    30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleWorkThreshold: time.Minute,
	}
}
