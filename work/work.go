// Package work defines the unit of work a task runner persists and
// executes, and the store contract behind it.
package work

import (
	"time"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/id"
	"github.com/ericzhng/jobmanager/job"
)

// State represents the lifecycle state of a work item.
type State string

const (
	// StateEnqueued means the item waits for its run time, its constraints
	// and its group predecessors.
	StateEnqueued State = "enqueued"
	// StateRunning means a worker is currently executing an attempt.
	StateRunning State = "running"
	// StateSucceeded means the job reported success.
	StateSucceeded State = "succeeded"
	// StateFailed means the job was canceled by its own lifecycle, or could
	// not be run at all.
	StateFailed State = "failed"
	// StateCancelled means the item was cancelled from outside.
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further attempts will be made.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Constraints are environment conditions the runner checks before claiming
// an item.
type Constraints struct {
	RequiresNetwork bool `json:"requires_network,omitempty"`
}

// SatisfiedBy reports whether the constraints hold given the current
// connectivity.
func (c Constraints) SatisfiedBy(networkUp bool) bool {
	return !c.RequiresNetwork || networkUp
}

// Request is a submission to a task runner.
type Request struct {
	// JobName is the registry key used to rebuild the job.
	JobName string
	// Data is the durable bundle handed to every attempt.
	Data job.Data
	// Constraints gate when an attempt may start.
	Constraints Constraints
	// Group appends the item to an ordered chain when non-empty.
	Group string
}

// Work is a persisted request plus its execution bookkeeping.
type Work struct {
	jobmanager.Entity

	ID              id.WorkID   `json:"id"`
	JobName         string      `json:"job_name"`
	Data            job.Data    `json:"-"`
	Constraints     Constraints `json:"constraints"`
	Group           string      `json:"group,omitempty"`
	GroupSeq        int64       `json:"group_seq,omitempty"`
	State           State       `json:"state"`
	RunAttemptCount int         `json:"run_attempt_count"`
	LastError       string      `json:"last_error,omitempty"`
	WorkerID        id.WorkerID `json:"worker_id,omitempty"`
	RunAt           time.Time   `json:"run_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
	HeartbeatAt     *time.Time  `json:"heartbeat_at,omitempty"`
}

// New builds an enqueued Work item from a request, runnable immediately.
// The store assigns GroupSeq on enqueue.
func New(req *Request) *Work {
	e := jobmanager.NewEntity()
	return &Work{
		Entity:      e,
		ID:          id.NewWorkID(),
		JobName:     req.JobName,
		Data:        req.Data,
		Constraints: req.Constraints,
		Group:       req.Group,
		State:       StateEnqueued,
		RunAt:       e.CreatedAt,
	}
}
