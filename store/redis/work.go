package redis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/id"
	"github.com/ericzhng/jobmanager/work"
)

// EnqueueWork stores the item as a Hash, appends it to its group and adds
// it to the ready set.
func (s *Store) EnqueueWork(ctx context.Context, w *work.Work) error {
	if s.closed.Load() {
		return jobmanager.ErrStoreClosed
	}
	wID := w.ID.String()
	key := workKey(wID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("jobmanager/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return jobmanager.ErrWorkAlreadyExists
	}

	if w.Group != "" {
		seq, seqErr := enqueueScript.Run(ctx, s.client, []string{groupKey(w.Group), groupSeqKey(w.Group)}, wID).Int64()
		if seqErr != nil {
			return fmt.Errorf("jobmanager/redis: enqueue group: %w", seqErr)
		}
		w.GroupSeq = seq
	}

	fields, err := s.workToMap(w)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, workIDsKey, wID)
	pipe.ZAdd(ctx, readyKey, goredis.Z{Score: workScore(w.RunAt), Member: wID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobmanager/redis: enqueue work: %w", err)
	}
	return nil
}

// ClaimWork atomically claims up to opts.Limit eligible items.
func (s *Store) ClaimWork(ctx context.Context, workerID id.WorkerID, opts work.ClaimOpts) ([]*work.Work, error) {
	if s.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	now := time.Now().UTC()
	limit := opts.Limit
	if limit <= 0 {
		limit = math.MaxInt32
	}
	network := "0"
	if opts.NetworkUp {
		network = "1"
	}

	ids, err := claimScript.Run(ctx, s.client, []string{readyKey},
		now.UnixMilli(), limit, network, workerID.String(), now.Format(time.RFC3339Nano), keyPrefix,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("jobmanager/redis: claim work: %w", err)
	}

	claimed := make([]*work.Work, 0, len(ids))
	for _, wID := range ids {
		w, getErr := s.getWorkByKey(ctx, workKey(wID))
		if getErr != nil {
			return nil, getErr
		}
		claimed = append(claimed, w)
	}
	return claimed, nil
}

// GetWork retrieves an item by ID.
func (s *Store) GetWork(ctx context.Context, workID id.WorkID) (*work.Work, error) {
	if s.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	return s.getWorkByKey(ctx, workKey(workID.String()))
}

// UpdateWork persists changes to an existing item and keeps the ready set
// and group chain in step with its state.
func (s *Store) UpdateWork(ctx context.Context, w *work.Work) error {
	if s.closed.Load() {
		return jobmanager.ErrStoreClosed
	}
	wID := w.ID.String()
	key := workKey(wID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("jobmanager/redis: update work exists: %w", err)
	}
	if exists == 0 {
		return jobmanager.ErrWorkNotFound
	}

	fields, err := s.workToMap(w)
	if err != nil {
		return err
	}
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if w.State == work.StateEnqueued {
		pipe.ZAdd(ctx, readyKey, goredis.Z{Score: workScore(w.RunAt), Member: wID})
	} else {
		pipe.ZRem(ctx, readyKey, wID)
	}
	if w.State.Terminal() && w.Group != "" {
		pipe.LRem(ctx, groupKey(w.Group), 0, wID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobmanager/redis: update work: %w", err)
	}
	return nil
}

// CancelWork moves an enqueued item to cancelled.
func (s *Store) CancelWork(ctx context.Context, workID id.WorkID) (*work.Work, error) {
	if s.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := cancelScript.Run(ctx, s.client, []string{readyKey}, workID.String(), now, keyPrefix).Int()
	if err != nil {
		return nil, fmt.Errorf("jobmanager/redis: cancel work: %w", err)
	}
	switch res {
	case -1:
		return nil, jobmanager.ErrWorkNotFound
	case 0:
		return nil, jobmanager.ErrInvalidState
	}
	return s.GetWork(ctx, workID)
}

// ListWork returns items matching opts ordered by creation.
func (s *Store) ListWork(ctx context.Context, opts work.ListOpts) ([]*work.Work, error) {
	if s.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	all, err := s.scan(ctx, func(w *work.Work) bool {
		if opts.State != "" && w.State != opts.State {
			return false
		}
		return opts.Group == "" || w.Group == opts.Group
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, k int) bool {
		if !all[i].CreatedAt.Equal(all[k].CreatedAt) {
			return all[i].CreatedAt.Before(all[k].CreatedAt)
		}
		return all[i].ID.String() < all[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return nil, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

// CountWork returns the number of items matching opts.
func (s *Store) CountWork(ctx context.Context, opts work.CountOpts) (int64, error) {
	if s.closed.Load() {
		return 0, jobmanager.ErrStoreClosed
	}
	matched, err := s.scan(ctx, func(w *work.Work) bool {
		if opts.State != "" && w.State != opts.State {
			return false
		}
		return opts.JobName == "" || w.JobName == opts.JobName
	})
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// HeartbeatWork updates the heartbeat timestamp for a running item.
func (s *Store) HeartbeatWork(ctx context.Context, workID id.WorkID, workerID id.WorkerID) error {
	if s.closed.Load() {
		return jobmanager.ErrStoreClosed
	}
	key := workKey(workID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("jobmanager/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return jobmanager.ErrWorkNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("jobmanager/redis: heartbeat work: %w", err)
	}
	return nil
}

// ReapStaleWork returns running items whose last heartbeat is older than
// threshold.
func (s *Store) ReapStaleWork(ctx context.Context, threshold time.Duration) ([]*work.Work, error) {
	if s.closed.Load() {
		return nil, jobmanager.ErrStoreClosed
	}
	cutoff := time.Now().UTC().Add(-threshold)
	return s.scan(ctx, func(w *work.Work) bool {
		return w.State == work.StateRunning && w.HeartbeatAt != nil && w.HeartbeatAt.Before(cutoff)
	})
}

// ── helpers ──

func (s *Store) scan(ctx context.Context, keep func(*work.Work) bool) ([]*work.Work, error) {
	ids, err := s.client.SMembers(ctx, workIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("jobmanager/redis: smembers: %w", err)
	}

	out := make([]*work.Work, 0, len(ids))
	for _, wID := range ids {
		w, getErr := s.getWorkByKey(ctx, workKey(wID))
		if getErr != nil {
			continue // skip missing
		}
		if keep(w) {
			out = append(out, w)
		}
	}
	return out, nil
}

// workScore orders the ready set by run time. Ties fall back to member
// order, which for time-ordered IDs is submission order.
func workScore(runAt time.Time) float64 {
	return float64(runAt.UnixMilli())
}

func (s *Store) workToMap(w *work.Work) (map[string]interface{}, error) {
	data, err := s.codec.Encode(w.Data)
	if err != nil {
		return nil, fmt.Errorf("jobmanager/redis: encode bundle: %w", err)
	}
	requiresNetwork := "0"
	if w.Constraints.RequiresNetwork {
		requiresNetwork = "1"
	}
	m := map[string]interface{}{
		"id":                w.ID.String(),
		"job_name":          w.JobName,
		"data":              data,
		"requires_network":  requiresNetwork,
		"group":             w.Group,
		"group_seq":         strconv.FormatInt(w.GroupSeq, 10),
		"state":             string(w.State),
		"run_attempt_count": strconv.Itoa(w.RunAttemptCount),
		"last_error":        w.LastError,
		"worker_id":         w.WorkerID.String(),
		"run_at":            w.RunAt.Format(time.RFC3339Nano),
		"created_at":        w.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":        w.UpdatedAt.Format(time.RFC3339Nano),
		"started_at":        formatTimePtr(w.StartedAt),
		"finished_at":       formatTimePtr(w.FinishedAt),
		"heartbeat_at":      formatTimePtr(w.HeartbeatAt),
	}
	return m, nil
}

func (s *Store) getWorkByKey(ctx context.Context, key string) (*work.Work, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("jobmanager/redis: get work: %w", err)
	}
	if len(vals) == 0 {
		return nil, jobmanager.ErrWorkNotFound
	}
	return s.mapToWork(vals)
}

func (s *Store) mapToWork(m map[string]string) (*work.Work, error) {
	wID, err := id.ParseWorkID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobmanager/redis: parse work id: %w", err)
	}
	data, err := s.codec.Decode([]byte(m["data"]))
	if err != nil {
		return nil, fmt.Errorf("jobmanager/redis: decode bundle: %w", err)
	}

	groupSeq, _ := strconv.ParseInt(m["group_seq"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["run_attempt_count"])     //nolint:errcheck // best-effort parse from trusted Redis data

	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	w := &work.Work{
		Entity: jobmanager.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:              wID,
		JobName:         m["job_name"],
		Data:            data,
		Constraints:     work.Constraints{RequiresNetwork: m["requires_network"] == "1"},
		Group:           m["group"],
		GroupSeq:        groupSeq,
		State:           work.State(m["state"]),
		RunAttemptCount: attempts,
		LastError:       m["last_error"],
		RunAt:           runAt,
		StartedAt:       parseTimePtr(m["started_at"]),
		FinishedAt:      parseTimePtr(m["finished_at"]),
		HeartbeatAt:     parseTimePtr(m["heartbeat_at"]),
	}
	if wid := m["worker_id"]; wid != "" {
		w.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return w, nil
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTimePtr(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}
