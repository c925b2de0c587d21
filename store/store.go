package store

import (
	"context"

	"github.com/ericzhng/jobmanager/work"
)

// Store is the full persistence interface a backend provides: the work
// contract the runner needs plus schema and connection management.
type Store interface {
	work.Store

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
