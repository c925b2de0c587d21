// Package memory provides an in-memory work.Store. Safe for concurrent
// access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/id"
	"github.com/ericzhng/jobmanager/store"
	"github.com/ericzhng/jobmanager/work"
)

var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of work.Store.
type Store struct {
	mu sync.RWMutex

	items    map[string]*work.Work
	groupSeq map[string]int64
	closed   atomic.Bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		items:    make(map[string]*work.Work),
		groupSeq: make(map[string]int64),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate, Ping, Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error {
	if m.closed.Load() {
		return jobmanager.ErrStoreClosed
	}
	return nil
}

// Ping succeeds until the store is closed.
func (m *Store) Ping(_ context.Context) error {
	if m.closed.Load() {
		return jobmanager.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Later calls fail with
// jobmanager.ErrStoreClosed; the data is kept.
func (m *Store) Close() error {
	m.closed.Store(true)
	return nil
}

// ──────────────────────────────────────────────────
// Work Store
// ──────────────────────────────────────────────────

// EnqueueWork persists a new item and assigns its group sequence.
func (m *Store) EnqueueWork(_ context.Context, w *work.Work) error {
	if m.closed.Load() {
		return jobmanager.ErrStoreClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := w.ID.String()
	if _, exists := m.items[key]; exists {
		return jobmanager.ErrWorkAlreadyExists
	}
	if w.Group != "" {
		m.groupSeq[w.Group]++
		w.GroupSeq = m.groupSeq[w.Group]
	}
	cp := *w
	m.items[key] = &cp
	return nil
}

// ClaimWork atomically claims up to opts.Limit eligible items.
func (m *Store) ClaimWork(_ context.Context, workerID id.WorkerID, opts work.ClaimOpts) ([]*work.Work, error) {
	if m.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	// Lowest non-terminal sequence per group: only that item may run.
	heads := make(map[string]int64)
	for _, w := range m.items {
		if w.Group == "" || w.State.Terminal() {
			continue
		}
		if seq, ok := heads[w.Group]; !ok || w.GroupSeq < seq {
			heads[w.Group] = w.GroupSeq
		}
	}

	candidates := make([]*work.Work, 0, len(m.items))
	for _, w := range m.items {
		if w.State != work.StateEnqueued {
			continue
		}
		if w.RunAt.After(now) {
			continue
		}
		if !w.Constraints.SatisfiedBy(opts.NetworkUp) {
			continue
		}
		if w.Group != "" && heads[w.Group] != w.GroupSeq {
			continue
		}
		candidates = append(candidates, w)
	}

	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].RunAt.Equal(candidates[k].RunAt) {
			return candidates[i].RunAt.Before(candidates[k].RunAt)
		}
		return candidates[i].ID.String() < candidates[k].ID.String()
	})

	if opts.Limit > 0 && len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	result := make([]*work.Work, len(candidates))
	for i, w := range candidates {
		started, beat := now, now
		w.State = work.StateRunning
		w.WorkerID = workerID
		w.StartedAt = &started
		w.HeartbeatAt = &beat
		w.UpdatedAt = now
		// Return a copy so callers can mutate without racing with the store.
		cp := *w
		result[i] = &cp
	}

	return result, nil
}

// GetWork retrieves an item by ID.
func (m *Store) GetWork(_ context.Context, workID id.WorkID) (*work.Work, error) {
	if m.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.items[workID.String()]
	if !ok {
		return nil, jobmanager.ErrWorkNotFound
	}
	cp := *w
	return &cp, nil
}

// UpdateWork persists changes to an existing item.
func (m *Store) UpdateWork(_ context.Context, w *work.Work) error {
	if m.closed.Load() {
		return jobmanager.ErrStoreClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := w.ID.String()
	if _, ok := m.items[key]; !ok {
		return jobmanager.ErrWorkNotFound
	}
	cp := *w
	cp.UpdatedAt = time.Now().UTC()
	m.items[key] = &cp
	return nil
}

// CancelWork moves an enqueued item to cancelled.
func (m *Store) CancelWork(_ context.Context, workID id.WorkID) (*work.Work, error) {
	if m.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.items[workID.String()]
	if !ok {
		return nil, jobmanager.ErrWorkNotFound
	}
	if w.State != work.StateEnqueued {
		return nil, jobmanager.ErrInvalidState
	}
	now := time.Now().UTC()
	w.State = work.StateCancelled
	w.FinishedAt = &now
	w.UpdatedAt = now
	cp := *w
	return &cp, nil
}

// ListWork returns items matching opts ordered by creation.
func (m *Store) ListWork(_ context.Context, opts work.ListOpts) ([]*work.Work, error) {
	if m.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*work.Work, 0, len(m.items))
	for _, w := range m.items {
		if opts.State != "" && w.State != opts.State {
			continue
		}
		if opts.Group != "" && w.Group != opts.Group {
			continue
		}
		cp := *w
		result = append(result, &cp)
	}

	// IDs are time-ordered, which breaks CreatedAt ties deterministically.
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountWork returns the number of items matching opts.
func (m *Store) CountWork(_ context.Context, opts work.CountOpts) (int64, error) {
	if m.closed.Load() {
		return 0, jobmanager.ErrStoreClosed
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, w := range m.items {
		if opts.State != "" && w.State != opts.State {
			continue
		}
		if opts.JobName != "" && w.JobName != opts.JobName {
			continue
		}
		count++
	}
	return count, nil
}

// HeartbeatWork updates the heartbeat timestamp for a running item.
func (m *Store) HeartbeatWork(_ context.Context, workID id.WorkID, _ id.WorkerID) error {
	if m.closed.Load() {
		return jobmanager.ErrStoreClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.items[workID.String()]
	if !ok {
		return jobmanager.ErrWorkNotFound
	}
	now := time.Now().UTC()
	w.HeartbeatAt = &now
	return nil
}

// ReapStaleWork returns running items whose last heartbeat is older than
// threshold.
func (m *Store) ReapStaleWork(_ context.Context, threshold time.Duration) ([]*work.Work, error) {
	if m.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*work.Work
	for _, w := range m.items {
		if w.State != work.StateRunning {
			continue
		}
		if w.HeartbeatAt != nil && w.HeartbeatAt.Before(cutoff) {
			cp := *w
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}
