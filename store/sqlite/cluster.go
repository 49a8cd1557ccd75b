package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/cluster"
	"github.com/surehelp/flume/id"
)

const workerColumns = `
	id, hostname, jobs, concurrency, state,
	is_leader, leader_until, last_seen, metadata, created_at`

// RegisterWorker adds a new worker to the cluster registry. Re-registering
// an existing worker refreshes its row.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flume_workers (
			id, hostname, jobs, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			hostname = excluded.hostname,
			jobs = excluded.jobs,
			concurrency = excluded.concurrency,
			state = excluded.state,
			last_seen = excluded.last_seen,
			metadata = excluded.metadata`,
		w.ID.String(), w.Hostname, stringsToJSON(w.Jobs), w.Concurrency,
		string(w.State), w.IsLeader, w.LeaderUntil,
		w.LastSeen.UTC(), mapToJSON(w.Metadata), w.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("flume/sqlite: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM flume_workers WHERE id = ?`,
		workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("flume/sqlite: deregister worker: %w", err)
	}
	return requireRow(res, flume.ErrWorkerNotFound)
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE flume_workers SET last_seen = ? WHERE id = ?`,
		time.Now().UTC(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("flume/sqlite: heartbeat worker: %w", err)
	}
	return requireRow(res, flume.ErrWorkerNotFound)
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM flume_workers ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("flume/sqlite: list workers: %w", err)
	}
	defer rows.Close()

	var workers []*cluster.Worker
	for rows.Next() {
		w, scanErr := scanWorker(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("flume/sqlite: scan worker row: %w", scanErr)
		}
		workers = append(workers, w)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("flume/sqlite: iterate worker rows: %w", err)
	}
	return workers, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM flume_workers WHERE last_seen < ?`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("flume/sqlite: reap dead workers: %w", err)
	}
	defer rows.Close()

	var workers []*cluster.Worker
	for rows.Next() {
		w, scanErr := scanWorker(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("flume/sqlite: scan dead worker: %w", scanErr)
		}
		workers = append(workers, w)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("flume/sqlite: iterate dead workers: %w", err)
	}
	return workers, nil
}

// AcquireLeadership attempts to become the cluster leader. Leadership is
// claimed when no valid leader exists or the current leader's TTL has
// expired.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()
	now := time.Now().UTC()
	until := now.Add(ttl)

	// Clear any expired leader first.
	_, err := s.db.ExecContext(ctx, `
		UPDATE flume_workers
		SET is_leader = 0, leader_until = NULL
		WHERE is_leader = 1 AND leader_until < ?`,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("flume/sqlite: clear expired leader: %w", err)
	}

	// Check for an active leader that isn't us.
	var activeLeaderID string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM flume_workers
		WHERE is_leader = 1 AND leader_until >= ?
		LIMIT 1`,
		now,
	).Scan(&activeLeaderID)
	if err != nil && !isNoRows(err) {
		return false, fmt.Errorf("flume/sqlite: check leader: %w", err)
	}

	if activeLeaderID != "" && activeLeaderID != wID {
		return false, nil
	}

	// Claim or re-claim leadership.
	res, claimErr := s.db.ExecContext(ctx, `
		UPDATE flume_workers
		SET is_leader = 1, leader_until = ?
		WHERE id = ?`,
		until, wID,
	)
	if claimErr != nil {
		return false, fmt.Errorf("flume/sqlite: claim leadership: %w", claimErr)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("flume/sqlite: claim leadership rows affected: %w", err)
	}
	return n > 0, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	until := time.Now().UTC().Add(ttl)

	res, err := s.db.ExecContext(ctx, `
		UPDATE flume_workers
		SET leader_until = ?
		WHERE id = ? AND is_leader = 1`,
		until, workerID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("flume/sqlite: renew leadership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("flume/sqlite: renew leadership rows affected: %w", err)
	}
	return n > 0, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workerColumns+` FROM flume_workers
		 WHERE is_leader = 1 AND leader_until >= ?
		 LIMIT 1`,
		time.Now().UTC(),
	)

	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flume/sqlite: get leader: %w", err)
	}
	return w, nil
}

// scanWorker scans a single worker row.
func scanWorker(row rowScanner) (*cluster.Worker, error) {
	var (
		w        cluster.Worker
		idStr    string
		jobsStr  string
		stateStr string
		metaStr  string
	)
	err := row.Scan(
		&idStr, &w.Hostname, &jobsStr, &w.Concurrency, &stateStr,
		&w.IsLeader, &w.LeaderUntil, &w.LastSeen, &metaStr, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.State = cluster.WorkerState(stateStr)
	w.Jobs = jsonToStrings(jobsStr)
	w.Metadata = jsonToMap(metaStr)

	parsedID, parseErr := id.ParseWorkerID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("flume/sqlite: parse worker id %q: %w", idStr, parseErr)
	}
	w.ID = parsedID

	return &w, nil
}

// ── JSON helpers ──────────────────────────────────────────────────

func stringsToJSON(ss []string) string {
	if ss == nil {
		return "[]"
	}
	b, _ := json.Marshal(ss) //nolint:errcheck // []string never fails
	return string(b)
}

func jsonToStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var ss []string
	_ = json.Unmarshal([]byte(s), &ss) //nolint:errcheck // best effort
	return ss
}

func mapToJSON(m map[string]string) string {
	if m == nil {
		return "{}"
	}
	b, _ := json.Marshal(m) //nolint:errcheck // map[string]string never fails
	return string(b)
}

func jsonToMap(s string) map[string]string {
	if s == "" || s == "{}" {
		return nil
	}
	m := make(map[string]string)
	_ = json.Unmarshal([]byte(s), &m) //nolint:errcheck // best effort
	return m
}
