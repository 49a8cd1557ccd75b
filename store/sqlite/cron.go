package sqlite

import (
	"context"
	"fmt"
	"time"

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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flume_cron_entries (
			id, name, schedule, event_name, payload, codec,
			last_run_at, next_run_at, locked_by, locked_until,
			enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.EventName,
		entry.Payload, entry.Codec,
		entry.LastRunAt, entry.NextRunAt, entry.LockedBy, entry.LockedUntil,
		entry.Enabled, entry.CreatedAt.UTC(), entry.UpdatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return flume.ErrDuplicateCron
		}
		return fmt.Errorf("flume/sqlite: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cronColumns+` FROM flume_cron_entries WHERE id = ?`,
		entryID.String(),
	)

	e, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, flume.ErrCronNotFound
		}
		return nil, fmt.Errorf("flume/sqlite: get cron: %w", err)
	}
	return e, nil
}

// ListCrons returns all cron entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cronColumns+` FROM flume_cron_entries ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("flume/sqlite: list crons: %w", err)
	}
	defer rows.Close()

	var entries []*cron.Entry
	for rows.Next() {
		e, scanErr := scanCron(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("flume/sqlite: scan cron row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("flume/sqlite: iterate cron rows: %w", err)
	}
	return entries, nil
}

// AcquireCronLock attempts to acquire the per-entry lock. A single
// atomic UPDATE claims the lock when it is free, expired, or already
// held by the same worker.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	wID := workerID.String()

	res, err := s.db.ExecContext(ctx, `
		UPDATE flume_cron_entries
		SET locked_by = ?, locked_until = ?, updated_at = ?
		WHERE id = ?
		  AND (locked_by = '' OR locked_until < ? OR locked_by = ?)`,
		wID, now.Add(ttl), now, entryID.String(), now, wID,
	)
	if err != nil {
		return false, fmt.Errorf("flume/sqlite: acquire cron lock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("flume/sqlite: acquire cron lock rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		existErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM flume_cron_entries WHERE id = ?)`,
			entryID.String(),
		).Scan(&exists)
		if existErr != nil {
			return false, fmt.Errorf("flume/sqlite: check cron exists: %w", existErr)
		}
		if !exists {
			return false, flume.ErrCronNotFound
		}
		return false, nil
	}

	return true, nil
}

// ReleaseCronLock releases the per-entry lock.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE flume_cron_entries
		SET locked_by = '', locked_until = NULL, updated_at = ?
		WHERE id = ? AND locked_by = ?`,
		time.Now().UTC(), entryID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("flume/sqlite: release cron lock: %w", err)
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE flume_cron_entries
		SET last_run_at = ?, updated_at = ?
		WHERE id = ?`,
		at.UTC(), time.Now().UTC(), entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("flume/sqlite: update cron last run: %w", err)
	}
	return requireRow(res, flume.ErrCronNotFound)
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE flume_cron_entries SET
			name = ?, schedule = ?, event_name = ?, payload = ?, codec = ?,
			last_run_at = ?, next_run_at = ?, locked_by = ?, locked_until = ?,
			enabled = ?, updated_at = ?
		WHERE id = ?`,
		entry.Name, entry.Schedule, entry.EventName, entry.Payload, entry.Codec,
		entry.LastRunAt, entry.NextRunAt, entry.LockedBy, entry.LockedUntil,
		entry.Enabled, time.Now().UTC(), entry.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("flume/sqlite: update cron entry: %w", err)
	}
	return requireRow(res, flume.ErrCronNotFound)
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM flume_cron_entries WHERE id = ?`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("flume/sqlite: delete cron: %w", err)
	}
	return requireRow(res, flume.ErrCronNotFound)
}

// scanCron scans a single cron entry row.
func scanCron(row rowScanner) (*cron.Entry, error) {
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
		return nil, fmt.Errorf("flume/sqlite: parse cron id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	return &e, nil
}
