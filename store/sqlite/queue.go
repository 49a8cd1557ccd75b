package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

const messageColumns = `
	id, trigger_id, event_name, job_name, payload, codec,
	status, attempts, max_attempts, last_error,
	enqueued_at, visible_at, reserved_by, done_at,
	created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// EnqueueBatch inserts all messages in a single transaction.
// Either every row lands or none do.
func (s *Store) EnqueueBatch(ctx context.Context, msgs []*queue.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("flume/sqlite: begin enqueue batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, msg := range msgs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO flume_messages (
				id, trigger_id, event_name, job_name, payload, codec,
				status, attempts, max_attempts, last_error,
				enqueued_at, visible_at, reserved_by, done_at,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID.String(), msg.TriggerID.String(), msg.EventName, msg.JobName,
			msg.Payload, msg.Codec,
			string(msg.Status), msg.Attempts, msg.MaxAttempts, msg.LastError,
			msg.EnqueuedAt.UTC(), msg.VisibleAt.UTC(), msg.ReservedBy.String(), msg.DoneAt,
			msg.CreatedAt.UTC(), msg.UpdatedAt.UTC(),
		)
		if err != nil {
			if isDuplicateKey(err) {
				return flume.ErrMessageExists
			}
			return fmt.Errorf("flume/sqlite: enqueue message: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("flume/sqlite: commit enqueue batch: %w", err)
	}
	return nil
}

// Dequeue atomically claims up to limit due messages for workerID.
// SQLite serializes writes, so a single UPDATE ... RETURNING claims
// rows without racing other consumers.
func (s *Store) Dequeue(ctx context.Context, workerID id.WorkerID, limit int, visibility time.Duration) ([]*queue.Message, error) {
	now := time.Now().UTC()

	rows, err := s.db.QueryContext(ctx, `
		UPDATE flume_messages
		SET status = 'reserved', reserved_by = ?, visible_at = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM flume_messages
			WHERE status IN ('pending', 'reserved')
			  AND visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT ?
		)
		RETURNING `+messageColumns,
		workerID.String(), now.Add(visibility), now, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("flume/sqlite: dequeue: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// Ack marks a reserved message done.
func (s *Store) Ack(ctx context.Context, msgID id.MessageID) error {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE flume_messages
		SET status = 'done', done_at = ?, updated_at = ?
		WHERE id = ?`,
		now, now, msgID.String(),
	)
	if err != nil {
		return fmt.Errorf("flume/sqlite: ack: %w", err)
	}
	return requireRow(res, flume.ErrMessageNotFound)
}

// Nack records a failed attempt and returns the message to pending with
// VisibleAt = now + delay.
func (s *Store) Nack(ctx context.Context, msgID id.MessageID, delay time.Duration, lastErr string) error {
	if delay < 0 {
		delay = 0
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE flume_messages
		SET status = 'pending', attempts = attempts + 1, last_error = ?,
		    reserved_by = '', visible_at = ?, updated_at = ?
		WHERE id = ?`,
		lastErr, now.Add(delay), now, msgID.String(),
	)
	if err != nil {
		return fmt.Errorf("flume/sqlite: nack: %w", err)
	}
	return requireRow(res, flume.ErrMessageNotFound)
}

// Release returns a reserved message to pending without counting an
// attempt.
func (s *Store) Release(ctx context.Context, msgID id.MessageID, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE flume_messages
		SET status = 'pending', reserved_by = '', visible_at = ?, updated_at = ?
		WHERE id = ?`,
		now.Add(delay), now, msgID.String(),
	)
	if err != nil {
		return fmt.Errorf("flume/sqlite: release: %w", err)
	}
	return requireRow(res, flume.ErrMessageNotFound)
}

// MarkDead transitions a message to dead, recording the final error.
func (s *Store) MarkDead(ctx context.Context, msgID id.MessageID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE flume_messages
		SET status = 'dead', last_error = ?, reserved_by = '', updated_at = ?
		WHERE id = ?`,
		reason, time.Now().UTC(), msgID.String(),
	)
	if err != nil {
		return fmt.Errorf("flume/sqlite: mark dead: %w", err)
	}
	return requireRow(res, flume.ErrMessageNotFound)
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, msgID id.MessageID) (*queue.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM flume_messages WHERE id = ?`,
		msgID.String(),
	)

	msg, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return nil, flume.ErrMessageNotFound
		}
		return nil, fmt.Errorf("flume/sqlite: get message: %w", err)
	}
	return msg, nil
}

// ListMessages returns messages matching the filter, newest first.
func (s *Store) ListMessages(ctx context.Context, opts queue.ListOpts) ([]*queue.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM flume_messages WHERE 1=1`
	args := []any{}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.JobName != "" {
		query += " AND job_name = ?"
		args = append(args, opts.JobName)
	}
	if opts.EventName != "" {
		query += " AND event_name = ?"
		args = append(args, opts.EventName)
	}

	query += " ORDER BY enqueued_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("flume/sqlite: list messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// CountMessages returns the number of messages matching the filter.
func (s *Store) CountMessages(ctx context.Context, opts queue.CountOpts) (int, error) {
	query := `SELECT COUNT(*) FROM flume_messages WHERE 1=1`
	args := []any{}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.JobName != "" {
		query += " AND job_name = ?"
		args = append(args, opts.JobName)
	}
	if opts.EventName != "" {
		query += " AND event_name = ?"
		args = append(args, opts.EventName)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("flume/sqlite: count messages: %w", err)
	}
	return count, nil
}

// PurgeDone deletes done messages whose DoneAt is before the cutoff.
func (s *Store) PurgeDone(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM flume_messages WHERE status = 'done' AND done_at < ?`,
		before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("flume/sqlite: purge done: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("flume/sqlite: purge done rows affected: %w", err)
	}
	return int(n), nil
}

// scanMessage scans a single message row.
func scanMessage(row rowScanner) (*queue.Message, error) {
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
		return nil, fmt.Errorf("flume/sqlite: parse message id %q: %w", idStr, parseErr)
	}
	msg.ID = parsedID

	parsedTrg, parseErr := id.ParseTriggerID(trgStr)
	if parseErr != nil {
		return nil, fmt.Errorf("flume/sqlite: parse trigger id %q: %w", trgStr, parseErr)
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
func collectMessages(rows *sql.Rows) ([]*queue.Message, error) {
	var msgs []*queue.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("flume/sqlite: scan message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flume/sqlite: iterate message rows: %w", err)
	}
	return msgs, nil
}
