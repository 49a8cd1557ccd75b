package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/cron"
	"github.com/surehelp/flume/id"
)

const cronColumns = `
	id, name, schedule, event_name, payload, codec,
	last_run_at, next_run_at, locked_by, locked_until,
	enabled, created_at, updated_at`

// RegisterCron persists a new cron entry. Returns an error if the name
// already exists.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO flume_cron_entries (
			id, name, schedule, event_name, payload, codec,
			last_run_at, next_run_at, locked_by, locked_until,
			enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.EventName,
		entry.Payload, entry.Codec,
		entry.LastRunAt, entry.NextRunAt, entry.LockedBy, entry.LockedUntil,
		entry.Enabled, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return flume.ErrDuplicateCron
		}
		return fmt.Errorf("flume/postgres: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cronColumns+` FROM flume_cron_entries WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, flume.ErrCronNotFound
		}
		return nil, fmt.Errorf("flume/postgres: get cron: %w", err)
	}
	return e, nil
}

// ListCrons returns all cron entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cronColumns+` FROM flume_cron_entries ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("flume/postgres: list crons: %w", err)
	}
	defer rows.Close()

	var entries []*cron.Entry
	for rows.Next() {
		e, scanErr := scanCron(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("flume/postgres: scan cron row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("flume/postgres: iterate cron rows: %w", err)
	}
	return entries, nil
}

// AcquireCronLock attempts to acquire the per-entry lock. A single
// atomic UPDATE claims the lock when it is free, expired, or already
// held by the same worker.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	until := now.Add(ttl)
	wID := workerID.String()

	tag, err := s.pool.Exec(ctx, `
		UPDATE flume_cron_entries
		SET locked_by = $2, locked_until = $3, updated_at = NOW()
		WHERE id = $1
		  AND (locked_by = '' OR locked_until < $4 OR locked_by = $2)`,
		entryID.String(), wID, until, now,
	)
	if err != nil {
		return false, fmt.Errorf("flume/postgres: acquire cron lock: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Check if the entry exists at all.
		var exists bool
		existErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM flume_cron_entries WHERE id = $1)`,
			entryID.String(),
		).Scan(&exists)
		if existErr != nil {
			return false, fmt.Errorf("flume/postgres: check cron exists: %w", existErr)
		}
		if !exists {
			return false, flume.ErrCronNotFound
		}
		// Entry exists but the lock is held by another worker.
		return false, nil
	}

	return true, nil
}

// ReleaseCronLock releases the per-entry lock.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE flume_cron_entries
		SET locked_by = '', locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND locked_by = $2`,
		entryID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("flume/postgres: release cron lock: %w", err)
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE flume_cron_entries
		SET last_run_at = $2, updated_at = NOW()
		WHERE id = $1`,
		entryID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("flume/postgres: update cron last run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return flume.ErrCronNotFound
	}
	return nil
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE flume_cron_entries SET
			name = $2, schedule = $3, event_name = $4,
			payload = $5, codec = $6,
			last_run_at = $7, next_run_at = $8,
			locked_by = $9, locked_until = $10,
			enabled = $11, updated_at = NOW()
		WHERE id = $1`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.EventName,
		entry.Payload, entry.Codec,
		entry.LastRunAt, entry.NextRunAt,
		entry.LockedBy, entry.LockedUntil,
		entry.Enabled,
	)
	if err != nil {
		return fmt.Errorf("flume/postgres: update cron entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return flume.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM flume_cron_entries WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("flume/postgres: delete cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return flume.ErrCronNotFound
	}
	return nil
}

// scanCron scans a single cron entry row.
func scanCron(row pgx.Row) (*cron.Entry, error) {
	var (
		e     cron.Entry
		idStr string
	)
	err := row.Scan(
		&idStr, &e.Name, &e.Schedule, &e.EventName, &e.Payload, &e.Codec,
		&e.LastRunAt, &e.NextRunAt, &e.LockedBy, &e.LockedUntil,
		&e.Enabled, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseCronID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("flume/postgres: parse cron id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	return &e, nil
}
