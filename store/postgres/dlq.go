package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/dlq"
	"github.com/surehelp/flume/id"
)

const dlqColumns = `
	id, message_id, trigger_id, event_name, job_name, payload, codec,
	error, attempts, max_attempts, failed_at, replayed_at, created_at`

// PushDLQ adds a terminally failed message entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO flume_dlq (
			id, message_id, trigger_id, event_name, job_name, payload, codec,
			error, attempts, max_attempts, failed_at, replayed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID.String(), entry.MessageID.String(), entry.TriggerID.String(),
		entry.EventName, entry.JobName, entry.Payload, entry.Codec,
		entry.Error, entry.Attempts, entry.MaxAttempts,
		entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("flume/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM flume_dlq WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

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

	query += " ORDER BY failed_at DESC"

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
		return nil, fmt.Errorf("flume/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("flume/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("flume/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM flume_dlq WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, flume.ErrDLQNotFound
		}
		return nil, fmt.Errorf("flume/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE flume_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("flume/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return flume.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM flume_dlq WHERE failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("flume/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM flume_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("flume/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
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
		return nil, fmt.Errorf("flume/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedMsg, parseErr := id.ParseMessageID(msgStr)
	if parseErr != nil {
		return nil, fmt.Errorf("flume/postgres: parse message id %q: %w", msgStr, parseErr)
	}
	e.MessageID = parsedMsg

	parsedTrg, parseErr := id.ParseTriggerID(trgStr)
	if parseErr != nil {
		return nil, fmt.Errorf("flume/postgres: parse trigger id %q: %w", trgStr, parseErr)
	}
	e.TriggerID = parsedTrg

	return &e, nil
}
