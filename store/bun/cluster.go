package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/cluster"
	"github.com/surehelp/flume/id"
)

// RegisterWorker adds a new worker to the cluster registry. Re-registering
// an existing worker refreshes its row.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	m := toWorkerModel(w)
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("hostname = EXCLUDED.hostname").
		Set("jobs = EXCLUDED.jobs").
		Set("concurrency = EXCLUDED.concurrency").
		Set("state = EXCLUDED.state").
		Set("last_seen = EXCLUDED.last_seen").
		Set("metadata = EXCLUDED.metadata").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("flume/bun: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.NewDelete().
		TableExpr("flume_workers").
		Where("id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("flume/bun: deregister worker: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return flume.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.NewUpdate().
		TableExpr("flume_workers").
		Set("last_seen = NOW()").
		Where("id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("flume/bun: heartbeat worker: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return flume.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	var models []workerModel
	err := s.db.NewSelect().Model(&models).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("flume/bun: list workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(models))
	for i := range models {
		w, convErr := fromWorkerModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("flume/bun: list workers convert: %w", convErr)
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	var models []workerModel
	err := s.db.NewSelect().Model(&models).
		Where("last_seen < NOW() - make_interval(secs => ?)", threshold.Seconds()).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("flume/bun: reap dead workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(models))
	for i := range models {
		w, convErr := fromWorkerModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("flume/bun: reap dead convert: %w", convErr)
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// AcquireLeadership attempts to become the cluster leader. Leadership is
// claimed when no valid leader exists or the current leader's TTL has
// expired.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()
	until := time.Now().UTC().Add(ttl)

	// Clear any expired leader first.
	_, err := s.db.NewUpdate().
		TableExpr("flume_workers").
		Set("is_leader = FALSE").
		Set("leader_until = NULL").
		Where("is_leader = TRUE").
		Where("leader_until < NOW()").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("flume/bun: clear expired leader: %w", err)
	}

	// Check for an active leader that isn't us.
	var activeLeaderID string
	err = s.db.NewSelect().
		TableExpr("flume_workers").
		Column("id").
		Where("is_leader = TRUE").
		Where("leader_until >= NOW()").
		Limit(1).
		Scan(ctx, &activeLeaderID)
	if err != nil && !isNoRows(err) {
		return false, fmt.Errorf("flume/bun: check leader: %w", err)
	}

	if activeLeaderID != "" && activeLeaderID != wID {
		return false, nil
	}

	// Claim or re-claim leadership.
	res, claimErr := s.db.NewUpdate().
		TableExpr("flume_workers").
		Set("is_leader = TRUE").
		Set("leader_until = ?", until).
		Where("id = ?", wID).
		Exec(ctx)
	if claimErr != nil {
		return false, fmt.Errorf("flume/bun: claim leadership: %w", claimErr)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows > 0, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	until := time.Now().UTC().Add(ttl)

	res, err := s.db.NewUpdate().
		TableExpr("flume_workers").
		Set("leader_until = ?", until).
		Where("id = ?", workerID.String()).
		Where("is_leader = TRUE").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("flume/bun: renew leadership: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows > 0, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	m := new(workerModel)
	err := s.db.NewSelect().Model(m).
		Where("is_leader = TRUE").
		Where("leader_until >= NOW()").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flume/bun: get leader: %w", err)
	}
	return fromWorkerModel(m)
}
