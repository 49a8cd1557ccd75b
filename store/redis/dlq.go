package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/dlq"
	"github.com/surehelp/flume/id"
)

// PushDLQ adds a terminally failed message entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), dlqToMap(entry))
	pipe.SAdd(ctx, dlqIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flume/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("flume/redis: list dlq smembers: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		entry, getErr := s.getDLQByKey(ctx, dlqKey(eID))
		if getErr != nil {
			continue // skip missing
		}
		if opts.JobName != "" && entry.JobName != opts.JobName {
			continue
		}
		if opts.EventName != "" && entry.EventName != opts.EventName {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, k int) bool {
		return entries[i].FailedAt.After(entries[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQByKey(ctx, dlqKey(entryID.String()))
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("flume/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return flume.ErrDLQNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err = s.client.HSet(ctx, key, "replayed_at", now).Err(); err != nil {
		return fmt.Errorf("flume/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("flume/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		entry, getErr := s.getDLQByKey(ctx, dlqKey(eID))
		if getErr != nil {
			continue
		}
		if !entry.FailedAt.Before(before) {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, dlqKey(eID))
		pipe.SRem(ctx, dlqIDsKey, eID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return purged, fmt.Errorf("flume/redis: purge dlq del: %w", pErr)
		}
		purged++
	}
	return purged, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("flume/redis: count dlq: %w", err)
	}
	return n, nil
}

// ── helpers ──

func dlqToMap(entry *dlq.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":           entry.ID.String(),
		"message_id":   entry.MessageID.String(),
		"trigger_id":   entry.TriggerID.String(),
		"event_name":   entry.EventName,
		"job_name":     entry.JobName,
		"payload":      string(entry.Payload),
		"codec":        entry.Codec,
		"error":        entry.Error,
		"attempts":     strconv.Itoa(entry.Attempts),
		"max_attempts": strconv.Itoa(entry.MaxAttempts),
		"failed_at":    entry.FailedAt.Format(time.RFC3339Nano),
		"created_at":   entry.CreatedAt.Format(time.RFC3339Nano),
	}
	if entry.ReplayedAt != nil {
		m["replayed_at"] = entry.ReplayedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getDLQByKey(ctx context.Context, key string) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("flume/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, flume.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("flume/redis: parse dlq id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])             //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	entry := &dlq.Entry{
		ID:          eID,
		EventName:   m["event_name"],
		JobName:     m["job_name"],
		Payload:     []byte(m["payload"]),
		Codec:       m["codec"],
		Error:       m["error"],
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		FailedAt:    failedAt,
		ReplayedAt:  strToTime(m["replayed_at"]),
		CreatedAt:   createdAt,
	}

	if v := m["message_id"]; v != "" {
		entry.MessageID, _ = id.ParseMessageID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["trigger_id"]; v != "" {
		entry.TriggerID, _ = id.ParseTriggerID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return entry, nil
}
