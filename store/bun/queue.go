package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

// EnqueueBatch inserts all messages in a single transaction.
// Either every row lands or none do.
func (s *Store) EnqueueBatch(ctx context.Context, msgs []*queue.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	models := make([]*messageModel, 0, len(msgs))
	for _, msg := range msgs {
		models = append(models, toMessageModel(msg))
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, insErr := tx.NewInsert().Model(&models).Exec(ctx)
		return insErr
	})
	if err != nil {
		if isDuplicateKey(err) {
			return flume.ErrMessageExists
		}
		return fmt.Errorf("flume/bun: enqueue batch: %w", err)
	}
	return nil
}

// Dequeue atomically claims up to limit due messages for workerID.
// Uses SELECT FOR UPDATE SKIP LOCKED via raw SQL, matching the pgx
// backend.
func (s *Store) Dequeue(ctx context.Context, workerID id.WorkerID, limit int, visibility time.Duration) ([]*queue.Message, error) {
	var models []messageModel
	_, err := s.db.NewRaw(`
		WITH claimed AS (
			UPDATE flume_messages
			SET status = 'reserved',
			    reserved_by = ?0,
			    visible_at = NOW() + make_interval(secs => ?2),
			    updated_at = NOW()
			WHERE id IN (
				SELECT id FROM flume_messages
				WHERE status IN ('pending', 'reserved')
				  AND visible_at <= NOW()
				ORDER BY visible_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT ?1
			)
			RETURNING *
		)
		SELECT * FROM claimed ORDER BY visible_at ASC`,
		workerID.String(), limit, visibility.Seconds(),
	).Exec(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("flume/bun: dequeue: %w", err)
	}

	msgs := make([]*queue.Message, 0, len(models))
	for i := range models {
		msg, convErr := fromMessageModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("flume/bun: dequeue convert: %w", convErr)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Ack marks a reserved message done.
func (s *Store) Ack(ctx context.Context, msgID id.MessageID) error {
	res, err := s.db.NewUpdate().
		TableExpr("flume_messages").
		Set("status = 'done'").
		Set("done_at = NOW()").
		Set("updated_at = NOW()").
		Where("id = ?", msgID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("flume/bun: ack: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return flume.ErrMessageNotFound
	}
	return nil
}

// Nack records a failed attempt and returns the message to pending with
// VisibleAt = now + delay.
func (s *Store) Nack(ctx context.Context, msgID id.MessageID, delay time.Duration, lastErr string) error {
	if delay < 0 {
		delay = 0
	}

	res, err := s.db.NewUpdate().
		TableExpr("flume_messages").
		Set("status = 'pending'").
		Set("attempts = attempts + 1").
		Set("last_error = ?", lastErr).
		Set("reserved_by = ''").
		Set("visible_at = NOW() + make_interval(secs => ?)", delay.Seconds()).
		Set("updated_at = NOW()").
		Where("id = ?", msgID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("flume/bun: nack: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return flume.ErrMessageNotFound
	}
	return nil
}

// Release returns a reserved message to pending without counting an
// attempt.
func (s *Store) Release(ctx context.Context, msgID id.MessageID, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}

	res, err := s.db.NewUpdate().
		TableExpr("flume_messages").
		Set("status = 'pending'").
		Set("reserved_by = ''").
		Set("visible_at = NOW() + make_interval(secs => ?)", delay.Seconds()).
		Set("updated_at = NOW()").
		Where("id = ?", msgID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("flume/bun: release: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return flume.ErrMessageNotFound
	}
	return nil
}

// MarkDead transitions a message to dead, recording the final error.
func (s *Store) MarkDead(ctx context.Context, msgID id.MessageID, reason string) error {
	res, err := s.db.NewUpdate().
		TableExpr("flume_messages").
		Set("status = 'dead'").
		Set("last_error = ?", reason).
		Set("reserved_by = ''").
		Set("updated_at = NOW()").
		Where("id = ?", msgID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("flume/bun: mark dead: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return flume.ErrMessageNotFound
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, msgID id.MessageID) (*queue.Message, error) {
	m := new(messageModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", msgID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, flume.ErrMessageNotFound
		}
		return nil, fmt.Errorf("flume/bun: get message: %w", err)
	}
	return fromMessageModel(m)
}

// ListMessages returns messages matching the filter, newest first.
func (s *Store) ListMessages(ctx context.Context, opts queue.ListOpts) ([]*queue.Message, error) {
	var models []messageModel
	q := s.db.NewSelect().Model(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.JobName != "" {
		q = q.Where("job_name = ?", opts.JobName)
	}
	if opts.EventName != "" {
		q = q.Where("event_name = ?", opts.EventName)
	}

	q = q.Order("enqueued_at DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("flume/bun: list messages: %w", err)
	}

	msgs := make([]*queue.Message, 0, len(models))
	for i := range models {
		msg, convErr := fromMessageModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("flume/bun: list messages convert: %w", convErr)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// CountMessages returns the number of messages matching the filter.
func (s *Store) CountMessages(ctx context.Context, opts queue.CountOpts) (int, error) {
	q := s.db.NewSelect().TableExpr("flume_messages")

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.JobName != "" {
		q = q.Where("job_name = ?", opts.JobName)
	}
	if opts.EventName != "" {
		q = q.Where("event_name = ?", opts.EventName)
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("flume/bun: count messages: %w", err)
	}
	return count, nil
}

// PurgeDone deletes done messages whose DoneAt is before the cutoff.
func (s *Store) PurgeDone(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.NewDelete().
		TableExpr("flume_messages").
		Where("status = 'done'").
		Where("done_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("flume/bun: purge done: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return int(rows), nil
}
