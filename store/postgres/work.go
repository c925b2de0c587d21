package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/id"
	"github.com/ericzhng/jobmanager/work"
)

const workColumns = `
	id, job_name, data, requires_network, group_name, group_seq, state,
	run_attempt_count, last_error, worker_id,
	run_at, started_at, finished_at, heartbeat_at, created_at, updated_at`

// EnqueueWork persists a new item. Grouped items take the next sequence
// from their group row, which serializes concurrent enqueues per group.
func (s *Store) EnqueueWork(ctx context.Context, w *work.Work) error {
	if s.closed.Load() {
		return jobmanager.ErrStoreClosed
	}
	data, err := s.codec.Encode(w.Data)
	if err != nil {
		return fmt.Errorf("jobmanager/postgres: encode bundle: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jobmanager/postgres: begin enqueue: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	seq := w.GroupSeq
	if w.Group != "" {
		err = tx.QueryRow(ctx, `
			INSERT INTO jobmanager_groups (name, seq) VALUES ($1, 1)
			ON CONFLICT (name) DO UPDATE SET seq = jobmanager_groups.seq + 1
			RETURNING seq`,
			w.Group,
		).Scan(&seq)
		if err != nil {
			return fmt.Errorf("jobmanager/postgres: next group seq: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO jobmanager_work (`+workColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14, $15, $16
		)`,
		w.ID.String(), w.JobName, data, w.Constraints.RequiresNetwork, w.Group, seq, string(w.State),
		w.RunAttemptCount, w.LastError, w.WorkerID.String(),
		w.RunAt, w.StartedAt, w.FinishedAt, w.HeartbeatAt, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobmanager.ErrWorkAlreadyExists
		}
		return fmt.Errorf("jobmanager/postgres: enqueue work: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jobmanager/postgres: commit enqueue: %w", err)
	}
	w.GroupSeq = seq
	return nil
}

// ClaimWork atomically claims up to opts.Limit eligible items using
// SELECT FOR UPDATE SKIP LOCKED.
func (s *Store) ClaimWork(ctx context.Context, workerID id.WorkerID, opts work.ClaimOpts) ([]*work.Work, error) {
	if s.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE jobmanager_work
			SET state = 'running', worker_id = $1,
				started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT w.id FROM jobmanager_work w
				WHERE w.state = 'enqueued'
				  AND w.run_at <= NOW()
				  AND (NOT w.requires_network OR $2)
				  AND (w.group_name = '' OR NOT EXISTS (
					SELECT 1 FROM jobmanager_work p
					WHERE p.group_name = w.group_name
					  AND p.group_seq < w.group_seq
					  AND p.state IN ('enqueued', 'running')
				  ))
				ORDER BY w.run_at ASC, w.id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $3
			)
			RETURNING `+workColumns+`
		)
		SELECT * FROM claimed ORDER BY run_at ASC, id ASC`,
		workerID.String(), opts.NetworkUp, limitArg(opts.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("jobmanager/postgres: claim work: %w", err)
	}
	defer rows.Close()

	return s.collectWork(rows)
}

// GetWork retrieves an item by ID.
func (s *Store) GetWork(ctx context.Context, workID id.WorkID) (*work.Work, error) {
	if s.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	row := s.pool.QueryRow(ctx, `SELECT `+workColumns+` FROM jobmanager_work WHERE id = $1`, workID.String())

	w, err := s.scanWork(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobmanager.ErrWorkNotFound
		}
		return nil, fmt.Errorf("jobmanager/postgres: get work: %w", err)
	}
	return w, nil
}

// UpdateWork persists changes to an existing item.
func (s *Store) UpdateWork(ctx context.Context, w *work.Work) error {
	if s.closed.Load() {
		return jobmanager.ErrStoreClosed
	}
	data, err := s.codec.Encode(w.Data)
	if err != nil {
		return fmt.Errorf("jobmanager/postgres: encode bundle: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobmanager_work SET
			job_name = $2, data = $3, requires_network = $4, state = $5,
			run_attempt_count = $6, last_error = $7, worker_id = $8,
			run_at = $9, started_at = $10, finished_at = $11, heartbeat_at = $12,
			updated_at = NOW()
		WHERE id = $1`,
		w.ID.String(), w.JobName, data, w.Constraints.RequiresNetwork, string(w.State),
		w.RunAttemptCount, w.LastError, w.WorkerID.String(),
		w.RunAt, w.StartedAt, w.FinishedAt, w.HeartbeatAt,
	)
	if err != nil {
		return fmt.Errorf("jobmanager/postgres: update work: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobmanager.ErrWorkNotFound
	}
	return nil
}

// CancelWork moves an enqueued item to cancelled.
func (s *Store) CancelWork(ctx context.Context, workID id.WorkID) (*work.Work, error) {
	if s.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE jobmanager_work
		SET state = 'cancelled', finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'enqueued'
		RETURNING `+workColumns,
		workID.String(),
	)
	w, err := s.scanWork(row)
	if err == nil {
		return w, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("jobmanager/postgres: cancel work: %w", err)
	}
	// Distinguish a missing item from one in another state.
	if _, getErr := s.GetWork(ctx, workID); getErr != nil {
		return nil, getErr
	}
	return nil, jobmanager.ErrInvalidState
}

// ListWork returns items matching opts ordered by creation.
func (s *Store) ListWork(ctx context.Context, opts work.ListOpts) ([]*work.Work, error) {
	if s.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	query := `SELECT ` + workColumns + ` FROM jobmanager_work WHERE TRUE`
	args := []interface{}{}
	argIdx := 1

	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
		argIdx++
	}
	if opts.Group != "" {
		query += fmt.Sprintf(" AND group_name = $%d", argIdx)
		args = append(args, opts.Group)
		argIdx++
	}

	query += " ORDER BY created_at ASC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobmanager/postgres: list work: %w", err)
	}
	defer rows.Close()

	return s.collectWork(rows)
}

// CountWork returns the number of items matching opts.
func (s *Store) CountWork(ctx context.Context, opts work.CountOpts) (int64, error) {
	if s.closed.Load() {
		return 0, jobmanager.ErrStoreClosed
	}
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobmanager_work
		WHERE ($1 = '' OR state = $1) AND ($2 = '' OR job_name = $2)`,
		string(opts.State), opts.JobName,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("jobmanager/postgres: count work: %w", err)
	}
	return count, nil
}

// HeartbeatWork updates the heartbeat timestamp for a running item.
func (s *Store) HeartbeatWork(ctx context.Context, workID id.WorkID, _ id.WorkerID) error {
	if s.closed.Load() {
		return jobmanager.ErrStoreClosed
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobmanager_work SET heartbeat_at = NOW(), updated_at = NOW() WHERE id = $1`,
		workID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobmanager/postgres: heartbeat work: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobmanager.ErrWorkNotFound
	}
	return nil
}

// ReapStaleWork returns running items whose last heartbeat is older than
// threshold.
func (s *Store) ReapStaleWork(ctx context.Context, threshold time.Duration) ([]*work.Work, error) {
	if s.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+workColumns+`
		FROM jobmanager_work
		WHERE state = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < $1`,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("jobmanager/postgres: reap stale work: %w", err)
	}
	defer rows.Close()

	return s.collectWork(rows)
}

// ── scanning ──

func (s *Store) scanWork(row pgx.Row) (*work.Work, error) {
	var (
		w        work.Work
		rawID    string
		data     []byte
		state    string
		workerID string
	)
	err := row.Scan(
		&rawID, &w.JobName, &data, &w.Constraints.RequiresNetwork, &w.Group, &w.GroupSeq, &state,
		&w.RunAttemptCount, &w.LastError, &workerID,
		&w.RunAt, &w.StartedAt, &w.FinishedAt, &w.HeartbeatAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if w.ID, err = id.ParseWorkID(rawID); err != nil {
		return nil, fmt.Errorf("jobmanager/postgres: parse work id %q: %w", rawID, err)
	}
	if workerID != "" {
		if w.WorkerID, err = id.ParseWorkerID(workerID); err != nil {
			return nil, fmt.Errorf("jobmanager/postgres: parse worker id %q: %w", workerID, err)
		}
	}
	if w.Data, err = s.codec.Decode(data); err != nil {
		return nil, fmt.Errorf("jobmanager/postgres: decode bundle: %w", err)
	}
	w.State = work.State(state)
	return &w, nil
}

func (s *Store) collectWork(rows pgx.Rows) ([]*work.Work, error) {
	var out []*work.Work
	for rows.Next() {
		w, err := s.scanWork(rows)
		if err != nil {
			return nil, fmt.Errorf("jobmanager/postgres: scan work: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobmanager/postgres: iterate work: %w", err)
	}
	return out, nil
}
