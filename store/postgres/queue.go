package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

const messageColumns = `
	id, trigger_id, event_name, job_name, payload, codec,
	status, attempts, max_attempts, last_error,
	enqueued_at, visible_at, reserved_by, done_at,
	created_at, updated_at`

// EnqueueBatch inserts all messages in a single transaction.
// Either every row lands or none do.
func (s *Store) EnqueueBatch(ctx context.Context, msgs []*queue.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("flume/postgres: begin enqueue batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, msg := range msgs {
		_, err = tx.Exec(ctx, `
			INSERT INTO flume_messages (
				id, trigger_id, event_name, job_name, payload, codec,
				status, attempts, max_attempts, last_error,
				enqueued_at, visible_at, reserved_by, done_at,
				created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6,
				$7, $8, $9, $10,
				$11, $12, $13, $14,
				$15, $16
			)`,
			msg.ID.String(), msg.TriggerID.String(), msg.EventName, msg.JobName,
			msg.Payload, msg.Codec,
			string(msg.Status), msg.Attempts, msg.MaxAttempts, msg.LastError,
			msg.EnqueuedAt, msg.VisibleAt, msg.ReservedBy.String(), msg.DoneAt,
			msg.CreatedAt, msg.UpdatedAt,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return flume.ErrMessageExists
			}
			return fmt.Errorf("flume/postgres: enqueue message: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("flume/postgres: commit enqueue batch: %w", err)
	}
	return nil
}

// Dequeue atomically claims up to limit due messages for workerID.
// Pending rows whose VisibleAt has passed and reserved rows whose
// visibility timeout has lapsed are both eligible, so a crashed
// consumer's messages come back automatically. Uses SELECT FOR UPDATE
// SKIP LOCKED for concurrent-safe dequeue.
func (s *Store) Dequeue(ctx context.Context, workerID id.WorkerID, limit int, visibility time.Duration) ([]*queue.Message, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE flume_messages
			SET status = 'reserved',
			    reserved_by = $1,
			    visible_at = NOW() + make_interval(secs => $3),
			    updated_at = NOW()
			WHERE id IN (
				SELECT id FROM flume_messages
				WHERE status IN ('pending', 'reserved')
				  AND visible_at <= NOW()
				ORDER BY visible_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+messageColumns+`
		)
		SELECT * FROM claimed ORDER BY visible_at ASC`,
		workerID.String(), limit, visibility.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("flume/postgres: dequeue: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// Ack marks a reserved message done.
func (s *Store) Ack(ctx context.Context, msgID id.MessageID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE flume_messages
		SET status = 'done', done_at = NOW(), updated_at = NOW()
		WHERE id = $1`,
		msgID.String(),
	)
	if err != nil {
		return fmt.Errorf("flume/postgres: ack: %w", err)
	}
	if tag.RowsAffected() == 0 {
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

	tag, err := s.pool.Exec(ctx, `
		UPDATE flume_messages
		SET status = 'pending',
		    attempts = attempts + 1,
		    last_error = $2,
		    reserved_by = '',
		    visible_at = NOW() + make_interval(secs => $3),
		    updated_at = NOW()
		WHERE id = $1`,
		msgID.String(), lastErr, delay.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("flume/postgres: nack: %w", err)
	}
	if tag.RowsAffected() == 0 {
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

	tag, err := s.pool.Exec(ctx, `
		UPDATE flume_messages
		SET status = 'pending',
		    reserved_by = '',
		    visible_at = NOW() + make_interval(secs => $2),
		    updated_at = NOW()
		WHERE id = $1`,
		msgID.String(), delay.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("flume/postgres: release: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return flume.ErrMessageNotFound
	}
	return nil
}

// MarkDead transitions a message to dead, recording the final error.
func (s *Store) MarkDead(ctx context.Context, msgID id.MessageID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE flume_messages
		SET status = 'dead', last_error = $2, reserved_by = '', updated_at = NOW()
		WHERE id = $1`,
		msgID.String(), reason,
	)
	if err != nil {
		return fmt.Errorf("flume/postgres: mark dead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return flume.ErrMessageNotFound
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, msgID id.MessageID) (*queue.Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM flume_messages WHERE id = $1`,
		msgID.String(),
	)

	msg, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return nil, flume.ErrMessageNotFound
		}
		return nil, fmt.Errorf("flume/postgres: get message: %w", err)
	}
	return msg, nil
}

// ListMessages returns messages matching the filter, newest first.
func (s *Store) ListMessages(ctx context.Context, opts queue.ListOpts) ([]*queue.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM flume_messages WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if opts.JobName != "" {
		query += fmt.Sprintf(" AND job_name = $%d", argIdx)
		args = append(args, opts.JobName)
		argIdx++
	}
	if opts.EventName != "" {
		query += fmt.Sprintf(" AND event_name = $%d", argIdx)
		args = append(args, opts.EventName)
		argIdx++
	}

	query += " ORDER BY enqueued_at DESC"

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
		return nil, fmt.Errorf("flume/postgres: list messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// CountMessages returns the number of messages matching the filter.
func (s *Store) CountMessages(ctx context.Context, opts queue.CountOpts) (int, error) {
	query := `SELECT COUNT(*) FROM flume_messages WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if opts.JobName != "" {
		query += fmt.Sprintf(" AND job_name = $%d", argIdx)
		args = append(args, opts.JobName)
		argIdx++
	}
	if opts.EventName != "" {
		query += fmt.Sprintf(" AND event_name = $%d", argIdx)
		args = append(args, opts.EventName)
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("flume/postgres: count messages: %w", err)
	}
	return count, nil
}

// PurgeDone deletes done messages whose DoneAt is before the cutoff.
func (s *Store) PurgeDone(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM flume_messages WHERE status = 'done' AND done_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("flume/postgres: purge done: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanMessage scans a single message row.
func scanMessage(row pgx.Row) (*queue.Message, error) {
	var (
		msg       queue.Message
		idStr     string
		trgStr    string
		statusStr string
		workerStr string
	)
	err := row.Scan(
		&idStr, &trgStr, &msg.EventName, &msg.JobName, &msg.Payload, &msg.Codec,
		&statusStr, &msg.Attempts, &msg.MaxAttempts, &msg.LastError,
		&msg.EnqueuedAt, &msg.VisibleAt, &workerStr, &msg.DoneAt,
		&msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Status = queue.Status(statusStr)

	parsedID, parseErr := id.ParseMessageID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("flume/postgres: parse message id %q: %w", idStr, parseErr)
	}
	msg.ID = parsedID

	parsedTrg, parseErr := id.ParseTriggerID(trgStr)
	if parseErr != nil {
		return nil, fmt.Errorf("flume/postgres: parse trigger id %q: %w", trgStr, parseErr)
	}
	msg.TriggerID = parsedTrg

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			msg.ReservedBy = parsedWorker
		}
	}

	return &msg, nil
}

// collectMessages collects all messages from query rows.
func collectMessages(rows pgx.Rows) ([]*queue.Message, error) {
	var msgs []*queue.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("flume/postgres: scan message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flume/postgres: iterate message rows: %w", err)
	}
	return msgs, nil
}
