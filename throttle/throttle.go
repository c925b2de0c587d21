package throttle

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-job-type rate limiting and concurrency.
type Config struct {
	// JobName is the registered job name the limits apply to.
	JobName string

	// MaxConcurrency limits how many jobs of this type may run
	// simultaneously in the local worker pool. Zero means no
	// job-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained attempts per second that may be
	// started for this job type. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// jobState tracks runtime state for a single job type.
type jobState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-job-type rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu   sync.Mutex
	jobs map[string]*jobState
}

// NewManager creates a Manager with the given configurations.
// Job types not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		jobs: make(map[string]*jobState, len(configs)),
	}
	for _, cfg := range configs {
		m.jobs[cfg.JobName] = newJobState(cfg)
	}
	return m
}

func newJobState(cfg Config) *jobState {
	js := &jobState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		js.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return js
}

// Acquire checks the concurrency cap and rate limit for jobName. If the
// attempt may start it increments the active counter and returns true.
// The caller MUST call Release when the attempt ends. A rejected call
// never consumes a rate token when the concurrency cap was the blocker.
func (m *Manager) Acquire(jobName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	js := m.jobs[jobName]
	if js == nil {
		return true
	}
	if js.config.MaxConcurrency > 0 && js.active >= js.config.MaxConcurrency {
		return false
	}
	if js.limiter != nil && !js.limiter.Allow() {
		return false
	}
	js.active++
	return true
}

// Release decrements the active count for jobName.
func (m *Manager) Release(jobName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if js := m.jobs[jobName]; js != nil && js.active > 0 {
		js.active--
	}
}

// SetConfig dynamically updates (or creates) a job type's configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.jobs[cfg.JobName]
	js := newJobState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		js.active = existing.active
	}
	m.jobs[cfg.JobName] = js
}

// ActiveCount returns the current number of active attempts for jobName.
func (m *Manager) ActiveCount(jobName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if js := m.jobs[jobName]; js != nil {
		return js.active
	}
	return 0
}
