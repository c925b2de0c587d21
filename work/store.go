package work

import (
	"context"
	"time"

	"github.com/ericzhng/jobmanager/id"
)

// ClaimOpts controls which items ClaimWork may hand out.
type ClaimOpts struct {
	// Limit is the maximum number of items to claim.
	Limit int
	// NetworkUp reports current connectivity. Items requiring a network
	// are skipped while it is false.
	NetworkUp bool
}

// ListOpts controls pagination and filtering for work list queries.
type ListOpts struct {
	// Limit is the maximum number of items to return. Zero means no limit.
	Limit int
	// Offset is the number of items to skip.
	Offset int
	// State filters by state. Empty means all states.
	State State
	// Group filters by group. Empty means all groups.
	Group string
}

// CountOpts controls filtering for work count queries.
type CountOpts struct {
	// State filters by state. Empty means all states.
	State State
	// JobName filters by job name. Empty means all jobs.
	JobName string
}

// Store defines the persistence contract for work items.
type Store interface {
	// EnqueueWork persists a new item. For grouped items the store assigns
	// a GroupSeq greater than every earlier item of the same group.
	EnqueueWork(ctx context.Context, w *Work) error

	// ClaimWork atomically claims up to opts.Limit eligible items, marks
	// them running for workerID and returns them ordered by RunAt. An item
	// is eligible when it is enqueued, due, its constraints hold, and no
	// item earlier in its group is still non-terminal.
	ClaimWork(ctx context.Context, workerID id.WorkerID, opts ClaimOpts) ([]*Work, error)

	// GetWork retrieves an item by ID.
	GetWork(ctx context.Context, workID id.WorkID) (*Work, error)

	// UpdateWork persists changes to an existing item.
	UpdateWork(ctx context.Context, w *Work) error

	// CancelWork moves an enqueued item to cancelled and returns it. It
	// fails with jobmanager.ErrInvalidState for items in any other state.
	CancelWork(ctx context.Context, workID id.WorkID) (*Work, error)

	// ListWork returns items ordered by creation.
	ListWork(ctx context.Context, opts ListOpts) ([]*Work, error)

	// CountWork returns the number of items matching opts.
	CountWork(ctx context.Context, opts CountOpts) (int64, error)

	// HeartbeatWork refreshes the heartbeat of a running item.
	HeartbeatWork(ctx context.Context, workID id.WorkID, workerID id.WorkerID) error

	// ReapStaleWork returns running items whose last heartbeat is older
	// than threshold.
	ReapStaleWork(ctx context.Context, threshold time.Duration) ([]*Work, error)

	// Migrate prepares the backend schema.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
