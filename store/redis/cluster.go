package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/cluster"
	"github.com/surehelp/flume/id"
)

// RegisterWorker adds a new worker to the cluster registry. Re-registering
// an existing worker refreshes its hash.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	wID := w.ID.String()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, workerKey(wID), workerToMap(w))
	pipe.SAdd(ctx, workerIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flume/redis: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	wID := workerID.String()
	exists, err := s.client.Exists(ctx, workerKey(wID)).Result()
	if err != nil {
		return fmt.Errorf("flume/redis: deregister worker exists: %w", err)
	}
	if exists == 0 {
		return flume.ErrWorkerNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, workerKey(wID))
	pipe.SRem(ctx, workerIDsKey, wID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flume/redis: deregister worker: %w", err)
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	key := workerKey(workerID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("flume/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return flume.ErrWorkerNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err = s.client.HSet(ctx, key, "last_seen", now).Err(); err != nil {
		return fmt.Errorf("flume/redis: heartbeat worker: %w", err)
	}
	return nil
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("flume/redis: list workers smembers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(ids))
	for _, wID := range ids {
		w, getErr := s.getWorkerByKey(ctx, workerKey(wID))
		if getErr != nil {
			continue // skip missing
		}
		workers = append(workers, w)
	}

	sort.Slice(workers, func(i, k int) bool {
		return workers[i].CreatedAt.Before(workers[k].CreatedAt)
	})
	return workers, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("flume/redis: reap dead smembers: %w", err)
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, wID := range ids {
		w, getErr := s.getWorkerByKey(ctx, workerKey(wID))
		if getErr != nil {
			continue
		}
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w)
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader using SET NX
// with a TTL on the leader key.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()

	ok, err := s.client.SetNX(ctx, leaderKey, wID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("flume/redis: acquire leadership: %w", err)
	}
	if !ok {
		// Key exists; leadership is retained if we already hold it.
		current, getErr := s.client.Get(ctx, leaderKey).Result()
		if getErr != nil {
			return false, fmt.Errorf("flume/redis: check leader: %w", getErr)
		}
		if current != wID {
			return false, nil
		}
		if err = s.client.Expire(ctx, leaderKey, ttl).Err(); err != nil {
			return false, fmt.Errorf("flume/redis: refresh leadership: %w", err)
		}
	}

	until := time.Now().UTC().Add(ttl)
	err = s.client.HSet(ctx, workerKey(wID),
		"is_leader", "1",
		"leader_until", until.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return false, fmt.Errorf("flume/redis: mark leader: %w", err)
	}
	return true, nil
}

// RenewLeadership extends the leader's hold. Returns false if the key
// has lapsed or another worker took over.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()

	current, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if isNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("flume/redis: renew check: %w", err)
	}
	if current != wID {
		return false, nil
	}

	if err = s.client.Expire(ctx, leaderKey, ttl).Err(); err != nil {
		return false, fmt.Errorf("flume/redis: renew leadership: %w", err)
	}

	until := time.Now().UTC().Add(ttl)
	err = s.client.HSet(ctx, workerKey(wID),
		"leader_until", until.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return false, fmt.Errorf("flume/redis: renew mark leader: %w", err)
	}
	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no
// leader.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	current, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if isNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flume/redis: get leader: %w", err)
	}

	w, err := s.getWorkerByKey(ctx, workerKey(current))
	if err != nil {
		if errors.Is(err, flume.ErrWorkerNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}

// ── helpers ──

func workerToMap(w *cluster.Worker) map[string]interface{} {
	m := map[string]interface{}{
		"id":          w.ID.String(),
		"hostname":    w.Hostname,
		"jobs":        marshalJSON(w.Jobs),
		"concurrency": strconv.Itoa(w.Concurrency),
		"state":       string(w.State),
		"is_leader":   boolToStr(w.IsLeader),
		"last_seen":   w.LastSeen.Format(time.RFC3339Nano),
		"metadata":    marshalJSON(w.Metadata),
		"created_at":  w.CreatedAt.Format(time.RFC3339Nano),
	}
	m["leader_until"] = timeToStr(w.LeaderUntil)
	return m
}

func (s *Store) getWorkerByKey(ctx context.Context, key string) (*cluster.Worker, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("flume/redis: get worker: %w", err)
	}
	if len(vals) == 0 {
		return nil, flume.ErrWorkerNotFound
	}
	return mapToWorker(vals)
}

func mapToWorker(m map[string]string) (*cluster.Worker, error) {
	wID, err := id.ParseWorkerID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("flume/redis: parse worker id: %w", err)
	}

	concurrency, _ := strconv.Atoi(m["concurrency"])              //nolint:errcheck // best-effort parse from trusted Redis data
	lastSeen, _ := time.Parse(time.RFC3339Nano, m["last_seen"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &cluster.Worker{
		ID:          wID,
		Hostname:    m["hostname"],
		Jobs:        unmarshalStrings(m["jobs"]),
		Concurrency: concurrency,
		State:       cluster.WorkerState(m["state"]),
		IsLeader:    m["is_leader"] == "1",
		LeaderUntil: strToTime(m["leader_until"]),
		LastSeen:    lastSeen,
		Metadata:    unmarshalMap(m["metadata"]),
		CreatedAt:   createdAt,
	}, nil
}
