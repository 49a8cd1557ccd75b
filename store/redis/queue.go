package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

// EnqueueBatch stores each message as a Hash and adds it to the queue
// Sorted Set. A duplicate ID anywhere in the batch fails the whole batch
// before any row is written.
func (s *Store) EnqueueBatch(ctx context.Context, msgs []*queue.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	for _, msg := range msgs {
		exists, err := s.client.Exists(ctx, msgKey(msg.ID.String())).Result()
		if err != nil {
			return fmt.Errorf("flume/redis: enqueue check exists: %w", err)
		}
		if exists > 0 {
			return flume.ErrMessageExists
		}
	}

	pipe := s.client.TxPipeline()
	for _, msg := range msgs {
		mID := msg.ID.String()
		pipe.HSet(ctx, msgKey(mID), messageToMap(msg))
		pipe.SAdd(ctx, msgIDsKey, mID)
		pipe.ZAdd(ctx, queueKey, goredis.Z{
			Score:  float64(msg.VisibleAt.UnixMilli()),
			Member: mID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flume/redis: enqueue batch: %w", err)
	}
	return nil
}

// dequeueScript claims up to ARGV[2] due members in one atomic step.
// Members are never removed from the queue set, only rescored to the
// new visibility horizon and marked reserved, so a crash at any point
// leaves every message either untouched or fully claimed.
var dequeueScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
	redis.call('ZADD', KEYS[1], ARGV[3], id)
	redis.call('HSET', ARGV[7] .. id,
		'status', ARGV[8],
		'reserved_by', ARGV[4],
		'visible_at', ARGV[5],
		'updated_at', ARGV[6])
end
return due
`)

// Dequeue atomically claims up to limit due messages via a Lua script:
// selection, rescore, and hash update happen as one Redis command, so
// no two consumers claim the same member and a not-yet-due member never
// leaves the queue set.
func (s *Store) Dequeue(ctx context.Context, workerID id.WorkerID, limit int, visibility time.Duration) ([]*queue.Message, error) {
	now := time.Now().UTC()
	visibleAt := now.Add(visibility)

	ids, err := dequeueScript.Run(ctx, s.client, []string{queueKey},
		now.UnixMilli(),
		limit,
		visibleAt.UnixMilli(),
		workerID.String(),
		visibleAt.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		msgKey(""),
		string(queue.StatusReserved),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("flume/redis: dequeue claim: %w", err)
	}

	msgs := make([]*queue.Message, 0, len(ids))
	for _, mID := range ids {
		msg, getErr := s.getMessageByKey(ctx, msgKey(mID))
		if getErr != nil {
			continue // hash gone, skip
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Ack marks a reserved message done and drops it from the queue set.
func (s *Store) Ack(ctx context.Context, msgID id.MessageID) error {
	mID := msgID.String()
	key := msgKey(mID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("flume/redis: ack exists: %w", err)
	}
	if exists == 0 {
		return flume.ErrMessageNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(queue.StatusDone),
		"done_at", now,
		"updated_at", now,
	)
	pipe.ZRem(ctx, queueKey, mID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flume/redis: ack: %w", err)
	}
	return nil
}

// Nack records a failed attempt and returns the message to pending with
// VisibleAt = now + delay.
func (s *Store) Nack(ctx context.Context, msgID id.MessageID, delay time.Duration, lastErr string) error {
	if delay < 0 {
		delay = 0
	}
	mID := msgID.String()
	key := msgKey(mID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("flume/redis: nack exists: %w", err)
	}
	if exists == 0 {
		return flume.ErrMessageNotFound
	}

	now := time.Now().UTC()
	visibleAt := now.Add(delay)

	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "attempts", 1)
	pipe.HSet(ctx, key,
		"status", string(queue.StatusPending),
		"last_error", lastErr,
		"reserved_by", "",
		"visible_at", visibleAt.Format(time.RFC3339Nano),
		"updated_at", now.Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, queueKey, goredis.Z{
		Score:  float64(visibleAt.UnixMilli()),
		Member: mID,
	})
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flume/redis: nack: %w", err)
	}
	return nil
}

// Release returns a reserved message to pending without counting an
// attempt.
func (s *Store) Release(ctx context.Context, msgID id.MessageID, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	mID := msgID.String()
	key := msgKey(mID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("flume/redis: release exists: %w", err)
	}
	if exists == 0 {
		return flume.ErrMessageNotFound
	}

	now := time.Now().UTC()
	visibleAt := now.Add(delay)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(queue.StatusPending),
		"reserved_by", "",
		"visible_at", visibleAt.Format(time.RFC3339Nano),
		"updated_at", now.Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, queueKey, goredis.Z{
		Score:  float64(visibleAt.UnixMilli()),
		Member: mID,
	})
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flume/redis: release: %w", err)
	}
	return nil
}

// MarkDead transitions a message to dead and drops it from the queue set.
func (s *Store) MarkDead(ctx context.Context, msgID id.MessageID, reason string) error {
	mID := msgID.String()
	key := msgKey(mID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("flume/redis: mark dead exists: %w", err)
	}
	if exists == 0 {
		return flume.ErrMessageNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(queue.StatusDead),
		"last_error", reason,
		"reserved_by", "",
		"updated_at", now,
	)
	pipe.ZRem(ctx, queueKey, mID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flume/redis: mark dead: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, msgID id.MessageID) (*queue.Message, error) {
	return s.getMessageByKey(ctx, msgKey(msgID.String()))
}

// ListMessages returns messages matching the filter, newest first.
func (s *Store) ListMessages(ctx context.Context, opts queue.ListOpts) ([]*queue.Message, error) {
	ids, err := s.client.SMembers(ctx, msgIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("flume/redis: list messages smembers: %w", err)
	}

	msgs := make([]*queue.Message, 0, len(ids))
	for _, mID := range ids {
		msg, getErr := s.getMessageByKey(ctx, msgKey(mID))
		if getErr != nil {
			continue // skip missing
		}
		if opts.Status != "" && msg.Status != opts.Status {
			continue
		}
		if opts.JobName != "" && msg.JobName != opts.JobName {
			continue
		}
		if opts.EventName != "" && msg.EventName != opts.EventName {
			continue
		}
		msgs = append(msgs, msg)
	}

	sort.Slice(msgs, func(i, k int) bool {
		return msgs[i].EnqueuedAt.After(msgs[k].EnqueuedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(msgs) {
			return nil, nil
		}
		msgs = msgs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(msgs) {
		msgs = msgs[:opts.Limit]
	}
	return msgs, nil
}

// CountMessages returns the number of messages matching the filter.
func (s *Store) CountMessages(ctx context.Context, opts queue.CountOpts) (int, error) {
	ids, err := s.client.SMembers(ctx, msgIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("flume/redis: count messages smembers: %w", err)
	}

	count := 0
	for _, mID := range ids {
		msg, getErr := s.getMessageByKey(ctx, msgKey(mID))
		if getErr != nil {
			continue
		}
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
func (s *Store) PurgeDone(ctx context.Context, before time.Time) (int, error) {
	ids, err := s.client.SMembers(ctx, msgIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("flume/redis: purge done smembers: %w", err)
	}

	purged := 0
	for _, mID := range ids {
		msg, getErr := s.getMessageByKey(ctx, msgKey(mID))
		if getErr != nil {
			continue
		}
		if msg.Status != queue.StatusDone || msg.DoneAt == nil || !msg.DoneAt.Before(before) {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, msgKey(mID))
		pipe.SRem(ctx, msgIDsKey, mID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return purged, fmt.Errorf("flume/redis: purge done del: %w", pErr)
		}
		purged++
	}
	return purged, nil
}

// ── helpers ──

func messageToMap(msg *queue.Message) map[string]interface{} {
	m := map[string]interface{}{
		"id":           msg.ID.String(),
		"trigger_id":   msg.TriggerID.String(),
		"event_name":   msg.EventName,
		"job_name":     msg.JobName,
		"payload":      string(msg.Payload),
		"codec":        msg.Codec,
		"status":       string(msg.Status),
		"attempts":     strconv.Itoa(msg.Attempts),
		"max_attempts": strconv.Itoa(msg.MaxAttempts),
		"last_error":   msg.LastError,
		"reserved_by":  msg.ReservedBy.String(),
		"enqueued_at":  msg.EnqueuedAt.Format(time.RFC3339Nano),
		"visible_at":   msg.VisibleAt.Format(time.RFC3339Nano),
		"created_at":   msg.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   msg.UpdatedAt.Format(time.RFC3339Nano),
	}
	if msg.DoneAt != nil {
		m["done_at"] = msg.DoneAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getMessageByKey(ctx context.Context, key string) (*queue.Message, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("flume/redis: get message: %w", err)
	}
	if len(vals) == 0 {
		return nil, flume.ErrMessageNotFound
	}
	return mapToMessage(vals)
}

func mapToMessage(m map[string]string) (*queue.Message, error) {
	mID, err := id.ParseMessageID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("flume/redis: parse message id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])               //nolint:errcheck // best-effort parse from trusted Redis data
	enqueuedAt, _ := time.Parse(time.RFC3339Nano, m["enqueued_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	visibleAt, _ := time.Parse(time.RFC3339Nano, m["visible_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])   //nolint:errcheck // best-effort parse from trusted Redis data

	msg := &queue.Message{
		Entity: flume.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          mID,
		EventName:   m["event_name"],
		JobName:     m["job_name"],
		Payload:     []byte(m["payload"]),
		Codec:       m["codec"],
		Status:      queue.Status(m["status"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		LastError:   m["last_error"],
		EnqueuedAt:  enqueuedAt,
		VisibleAt:   visibleAt,
	}

	if v := m["trigger_id"]; v != "" {
		msg.TriggerID, _ = id.ParseTriggerID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["reserved_by"]; v != "" {
		msg.ReservedBy, _ = id.ParseWorkerID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["done_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		msg.DoneAt = &t
	}

	return msg, nil
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}

// unmarshalStrings parses a JSON array of strings.
func unmarshalStrings(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}

// unmarshalMap parses a JSON map.
func unmarshalMap(s string) map[string]string {
	if s == "" || s == "null" {
		return nil
	}
	out := make(map[string]string)
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}
