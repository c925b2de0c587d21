package job

import (
	"time"

	"github.com/ericzhng/jobmanager/requirement"
)

// DefaultRetryCount is the retry budget of parameters built without
// WithRetryCount or a retry deadline.
const DefaultRetryCount = 100

// Parameters is a job's immutable retry policy, requirement list and
// grouping. Build it with NewParameters.
type Parameters struct {
	requirements         []requirement.Requirement
	retryCount           int
	retryUntil           time.Time
	groupID              string
	requiresNetwork      bool
	requiresMasterSecret bool
	requiresSQLCipher    bool
	timeout              time.Duration
}

// ParameterOption configures Parameters.
type ParameterOption func(*Parameters)

// NewParameters builds Parameters from options.
func NewParameters(opts ...ParameterOption) *Parameters {
	p := &Parameters{retryCount: DefaultRetryCount}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithRequirement appends a requirement. Requirements are checked in the
// order they were added.
func WithRequirement(r requirement.Requirement) ParameterOption {
	return func(p *Parameters) {
		if r != nil {
			p.requirements = append(p.requirements, r)
		}
	}
}

// WithNetworkRequirement adds a network requirement backed by c and marks
// the job as needing a network constraint from the task runner.
func WithNetworkRequirement(c requirement.Condition) ParameterOption {
	return func(p *Parameters) {
		p.requirements = append(p.requirements, requirement.Network(c))
		p.requiresNetwork = true
	}
}

// WithMasterSecretRequirement adds a master-secret requirement backed by c.
func WithMasterSecretRequirement(c requirement.Condition) ParameterOption {
	return func(p *Parameters) {
		p.requirements = append(p.requirements, requirement.MasterSecret(c))
		p.requiresMasterSecret = true
	}
}

// WithSQLCipherRequirement adds an SQLCipher requirement backed by c.
func WithSQLCipherRequirement(c requirement.Condition) ParameterOption {
	return func(p *Parameters) {
		p.requirements = append(p.requirements, requirement.SQLCipher(c))
		p.requiresSQLCipher = true
	}
}

// WithRetryCount bounds the job to n attempts past the first. It clears
// any retry deadline.
func WithRetryCount(n int) ParameterOption {
	return func(p *Parameters) {
		p.retryCount = n
		p.retryUntil = time.Time{}
	}
}

// WithRetryDuration lets the job retry until d from now, with no count
// bound.
func WithRetryDuration(d time.Duration) ParameterOption {
	return WithRetryUntil(time.Now().Add(d))
}

// WithRetryUntil lets the job retry until t, with no count bound.
func WithRetryUntil(t time.Time) ParameterOption {
	return func(p *Parameters) {
		p.retryCount = 0
		p.retryUntil = t
	}
}

// WithGroupID places the job in an ordered group. Jobs sharing a group run
// one at a time in submission order.
func WithGroupID(g string) ParameterOption {
	return func(p *Parameters) { p.groupID = g }
}

// WithTimeout bounds a single attempt.
func WithTimeout(d time.Duration) ParameterOption {
	return func(p *Parameters) { p.timeout = d }
}

// Requirements returns a copy of the requirement list.
func (p *Parameters) Requirements() []requirement.Requirement {
	if len(p.requirements) == 0 {
		return nil
	}
	out := make([]requirement.Requirement, len(p.requirements))
	copy(out, p.requirements)
	return out
}

// RetryCount returns the retry budget; 0 means the deadline applies.
func (p *Parameters) RetryCount() int { return p.retryCount }

// RetryUntil returns the retry deadline, or the zero time.
func (p *Parameters) RetryUntil() time.Time { return p.retryUntil }

// RetryUntilMillis returns the retry deadline in Unix milliseconds, or 0.
func (p *Parameters) RetryUntilMillis() int64 {
	if p.retryUntil.IsZero() {
		return 0
	}
	return p.retryUntil.UnixMilli()
}

// GroupID returns the ordered group, or "".
func (p *Parameters) GroupID() string { return p.groupID }

// RequiresNetwork reports whether the runner should gate on connectivity.
func (p *Parameters) RequiresNetwork() bool { return p.requiresNetwork }

// RequiresMasterSecret reports whether the master secret must be unlocked.
func (p *Parameters) RequiresMasterSecret() bool { return p.requiresMasterSecret }

// RequiresSQLCipher reports whether the encrypted database must be ready.
func (p *Parameters) RequiresSQLCipher() bool { return p.requiresSQLCipher }

// Timeout returns the per-attempt timeout, or 0 for none.
func (p *Parameters) Timeout() time.Duration { return p.timeout }
