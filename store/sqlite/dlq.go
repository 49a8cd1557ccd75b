package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/dlq"
	"github.com/surehelp/flume/id"
)

const dlqColumns = `
	id, message_id, trigger_id, event_name, job_name, payload, codec,
	error, attempts, max_attempts, failed_at, replayed_at, created_at`

// PushDLQ adds a terminally failed message entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flume_dlq (
			id, message_id, trigger_id, event_name, job_name, payload, codec,
			error, attempts, max_attempts, failed_at, replayed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.MessageID.String(), entry.TriggerID.String(),
		entry.EventName, entry.JobName, entry.Payload, entry.Codec,
		entry.Error, entry.Attempts, entry.MaxAttempts,
		entry.FailedAt.UTC(), entry.ReplayedAt, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("flume/sqlite: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM flume_dlq WHERE 1=1`
	args := []any{}

	if opts.JobName != "" {
		query += " AND job_name = ?"
		args = append(args, opts.JobName)
	}
	if opts.EventName != "" {
		query += " AND event_name = ?"
		args = append(args, opts.EventName)
	}

	query += " ORDER BY failed_at DESC"

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
		return nil, fmt.Errorf("flume/sqlite: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("flume/sqlite: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("flume/sqlite: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+dlqColumns+` FROM flume_dlq WHERE id = ?`,
		entryID.String(),
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, flume.ErrDLQNotFound
		}
		return nil, fmt.Errorf("flume/sqlite: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE flume_dlq SET replayed_at = ? WHERE id = ?`,
		time.Now().UTC(), entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("flume/sqlite: replay dlq: %w", err)
	}
	return requireRow(res, flume.ErrDLQNotFound)
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM flume_dlq WHERE failed_at < ?`,
		before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("flume/sqlite: purge dlq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("flume/sqlite: purge dlq rows affected: %w", err)
	}
	return n, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flume_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("flume/sqlite: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row rowScanner) (*dlq.Entry, error) {
	var (
		e      dlq.Entry
		idStr  string
		msgStr string
		trgStr string
	)
	err := row.Scan(
		&idStr, &msgStr, &trgStr, &e.EventName, &e.JobName, &e.Payload, &e.Codec,
		&e.Error, &e.Attempts, &e.MaxAttempts,
		&e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("flume/sqlite: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedMsg, parseErr := id.ParseMessageID(msgStr)
	if parseErr != nil {
		return nil, fmt.Errorf("flume/sqlite: parse message id %q: %w", msgStr, parseErr)
	}
	e.MessageID = parsedMsg

	parsedTrg, parseErr := id.ParseTriggerID(trgStr)
	if parseErr != nil {
		return nil, fmt.Errorf("flume/sqlite: parse trigger id %q: %w", trgStr, parseErr)
	}
	e.TriggerID = parsedTrg

	return &e, nil
}
