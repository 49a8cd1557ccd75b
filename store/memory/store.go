package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/cluster"
	"github.com/surehelp/flume/cron"
	"github.com/surehelp/flume/dlq"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ queue.Store   = (*Store)(nil)
	_ cron.Store    = (*Store)(nil)
	_ dlq.Store     = (*Store)(nil)
	_ cluster.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	messages map[string]*queue.Message
	crons    map[string]*cron.Entry
	dlqs     map[string]*dlq.Entry
	workers  map[string]*cluster.Worker

	// leader tracks the current cluster leader worker ID string.
	leader      string
	leaderUntil time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		messages: make(map[string]*queue.Message),
		crons:    make(map[string]*cron.Entry),
		dlqs:     make(map[string]*dlq.Entry),
		workers:  make(map[string]*cluster.Worker),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Queue Store
// ──────────────────────────────────────────────────

// EnqueueBatch inserts all messages or none of them.
func (m *Store) EnqueueBatch(_ context.Context, msgs []*queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range msgs {
		if _, exists := m.messages[msg.ID.String()]; exists {
			return flume.ErrMessageExists
		}
	}
	for _, msg := range msgs {
		cp := *msg
		m.messages[msg.ID.String()] = &cp
	}
	return nil
}

// Dequeue atomically claims up to limit due messages for workerID.
// Eligible rows are pending rows whose VisibleAt has passed and reserved
// rows whose visibility timeout has lapsed.
func (m *Store) Dequeue(_ context.Context, workerID id.WorkerID, limit int, visibility time.Duration) ([]*queue.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	candidates := make([]*queue.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		switch msg.Status {
		case queue.StatusPending:
			if msg.VisibleAt.After(now) {
				continue
			}
		case queue.StatusReserved:
			// A lapsed reservation means the consumer crashed or stalled;
			// the row is claimable again.
			if msg.VisibleAt.After(now) {
				continue
			}
		default:
			continue
		}
		candidates = append(candidates, msg)
	}

	// Oldest due first.
	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].VisibleAt.Before(candidates[k].VisibleAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*queue.Message, len(candidates))
	for i, msg := range candidates {
		msg.Status = queue.StatusReserved
		msg.ReservedBy = workerID
		msg.VisibleAt = now.Add(visibility)
		// Return a copy so callers can mutate without racing with the store.
		cp := *msg
		result[i] = &cp
	}

	return result, nil
}

// Ack marks a reserved message done.
func (m *Store) Ack(_ context.Context, msgID id.MessageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[msgID.String()]
	if !ok {
		return flume.ErrMessageNotFound
	}
	now := time.Now().UTC()
	msg.Status = queue.StatusDone
	msg.DoneAt = &now
	msg.UpdatedAt = now
	return nil
}

// Nack records a failed attempt and returns the message to pending with
// VisibleAt = now + delay.
func (m *Store) Nack(_ context.Context, msgID id.MessageID, delay time.Duration, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[msgID.String()]
	if !ok {
		return flume.ErrMessageNotFound
	}
	now := time.Now().UTC()
	msg.Status = queue.StatusPending
	msg.Attempts++
	msg.LastError = lastErr
	msg.ReservedBy = id.Nil
	msg.VisibleAt = now.Add(delay)
	msg.UpdatedAt = now
	return nil
}

// Release returns a reserved message to pending without counting an attempt.
func (m *Store) Release(_ context.Context, msgID id.MessageID, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[msgID.String()]
	if !ok {
		return flume.ErrMessageNotFound
	}
	now := time.Now().UTC()
	msg.Status = queue.StatusPending
	msg.ReservedBy = id.Nil
	msg.VisibleAt = now.Add(delay)
	msg.UpdatedAt = now
	return nil
}

// MarkDead transitions a message to dead, recording the final error.
func (m *Store) MarkDead(_ context.Context, msgID id.MessageID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[msgID.String()]
	if !ok {
		return flume.ErrMessageNotFound
	}
	msg.Status = queue.StatusDead
	msg.LastError = reason
	msg.UpdatedAt = time.Now().UTC()
	return nil
}

// GetMessage fetches a message by ID.
func (m *Store) GetMessage(_ context.Context, msgID id.MessageID) (*queue.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[msgID.String()]
	if !ok {
		return nil, flume.ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

// ListMessages returns messages matching the filter, newest first.
func (m *Store) ListMessages(_ context.Context, opts queue.ListOpts) ([]*queue.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*queue.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		if opts.Status != "" && msg.Status != opts.Status {
			continue
		}
		if opts.JobName != "" && msg.JobName != opts.JobName {
			continue
		}
		if opts.EventName != "" && msg.EventName != opts.EventName {
			continue
		}
		cp := *msg
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].EnqueuedAt.After(result[k].EnqueuedAt)
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

// CountMessages returns the number of messages matching the filter.
func (m *Store) CountMessages(_ context.Context, opts queue.CountOpts) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, msg := range m.messages {
		if opts.Status != "" && msg.Status != opts.Status {
			continue
		}
		if opts.JobName != "" && msg.JobName != opts.JobName {
			continue
		}
		if opts.EventName != "" && msg.EventName != opts.EventName {
			continue
		}
		count++
	}
	return count, nil
}

// PurgeDone deletes done messages whose DoneAt is before the cutoff.
func (m *Store) PurgeDone(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for key, msg := range m.messages {
		if msg.Status != queue.StatusDone {
			continue
		}
		if msg.DoneAt != nil && msg.DoneAt.Before(before) {
			delete(m.messages, key)
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Cron Store
// ──────────────────────────────────────────────────

// RegisterCron persists a new cron entry. Returns an error if the name
// already exists.
func (m *Store) RegisterCron(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check for duplicate name.
	for _, e := range m.crons {
		if e.Name == entry.Name {
			return flume.ErrDuplicateCron
		}
	}

	m.crons[entry.ID.String()] = entry
	return nil
}

// GetCron retrieves a cron entry by ID.
func (m *Store) GetCron(_ context.Context, entryID id.CronID) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return nil, flume.ErrCronNotFound
	}
	return e, nil
}

// ListCrons returns all cron entries.
func (m *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cron.Entry, 0, len(m.crons))
	for _, e := range m.crons {
		result = append(result, e)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// AcquireCronLock attempts to acquire a distributed lock for a cron entry.
func (m *Store) AcquireCronLock(_ context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return false, flume.ErrCronNotFound
	}

	now := time.Now().UTC()

	// If already locked by someone else and lock hasn't expired, fail.
	if e.LockedBy != "" && e.LockedUntil != nil && e.LockedUntil.After(now) {
		if e.LockedBy != workerID.String() {
			return false, nil
		}
	}

	e.LockedBy = workerID.String()
	until := now.Add(ttl)
	e.LockedUntil = &until
	return true, nil
}

// ReleaseCronLock releases the distributed lock for a cron entry.
func (m *Store) ReleaseCronLock(_ context.Context, entryID id.CronID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return flume.ErrCronNotFound
	}

	if e.LockedBy != workerID.String() {
		return nil // not holding the lock; no-op
	}

	e.LockedBy = ""
	e.LockedUntil = nil
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (m *Store) UpdateCronLastRun(_ context.Context, entryID id.CronID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return flume.ErrCronNotFound
	}
	e.LastRunAt = &at
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (m *Store) UpdateCronEntry(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.crons[key]; !ok {
		return flume.ErrCronNotFound
	}
	entry.UpdatedAt = time.Now().UTC()
	m.crons[key] = entry
	return nil
}

// DeleteCron removes a cron entry by ID.
func (m *Store) DeleteCron(_ context.Context, entryID id.CronID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.crons[key]; !ok {
		return flume.ErrCronNotFound
	}
	delete(m.crons, key)
	return nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a terminally failed message entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dlqs[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns DLQ entries matching the given options.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.JobName != "" && e.JobName != opts.JobName {
			continue
		}
		if opts.EventName != "" && e.EventName != opts.EventName {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
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

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, flume.ErrDLQNotFound
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return flume.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds a new worker to the cluster registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers[w.ID.String()] = w
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return flume.ErrWorkerNotFound
	}
	delete(m.workers, key)
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return flume.ErrWorkerNotFound
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// ListWorkers returns all registered workers.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		result = append(result, w)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range m.workers {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w)
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader.
func (m *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	wKey := workerID.String()

	// If there's already a leader whose TTL hasn't expired and it's not us, fail.
	if m.leader != "" && m.leaderUntil.After(now) && m.leader != wKey {
		return false, nil
	}

	// Acquire (or re-acquire) leadership.
	m.leader = wKey
	m.leaderUntil = now.Add(ttl)

	// Update worker record.
	if w, ok := m.workers[wKey]; ok {
		w.IsLeader = true
		until := m.leaderUntil
		w.LeaderUntil = &until
	}

	return true, nil
}

// RenewLeadership extends the leader's hold.
func (m *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wKey := workerID.String()
	if m.leader != wKey {
		return false, nil
	}

	m.leaderUntil = time.Now().UTC().Add(ttl)

	if w, ok := m.workers[wKey]; ok {
		until := m.leaderUntil
		w.LeaderUntil = &until
	}

	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (m *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || m.leaderUntil.Before(time.Now().UTC()) {
		return nil, nil
	}

	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil
	}
	return w, nil
}
