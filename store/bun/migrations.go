package bunstore

// migration is one named, ordered set of schema statements. Applied
// migrations are recorded in flume_migrations and never re-run.
// The schema matches the pgx-based postgres package so the two backends
// are interchangeable against the same database.
type migration struct {
	name       string
	statements []string
}

var migrations = []migration{
	{
		name: "001_create_messages_table",
		statements: []string{`
			CREATE TABLE IF NOT EXISTS flume_messages (
				id              TEXT PRIMARY KEY,
				trigger_id      TEXT NOT NULL,
				event_name      TEXT NOT NULL,
				job_name        TEXT NOT NULL,
				payload         BYTEA NOT NULL,
				codec           TEXT NOT NULL DEFAULT 'json',
				status          TEXT NOT NULL DEFAULT 'pending',
				attempts        INTEGER NOT NULL DEFAULT 0,
				max_attempts    INTEGER NOT NULL DEFAULT 4,
				last_error      TEXT NOT NULL DEFAULT '',
				enqueued_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				visible_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				reserved_by     TEXT NOT NULL DEFAULT '',
				done_at         TIMESTAMPTZ,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_flume_messages_dequeue
				ON flume_messages (visible_at ASC)
				WHERE status IN ('pending', 'reserved')`,
			`CREATE INDEX IF NOT EXISTS idx_flume_messages_status
				ON flume_messages (status)`,
			`CREATE INDEX IF NOT EXISTS idx_flume_messages_job
				ON flume_messages (job_name)`,
		},
	},
	{
		name: "002_create_cron_entries_table",
		statements: []string{`
			CREATE TABLE IF NOT EXISTS flume_cron_entries (
				id              TEXT PRIMARY KEY,
				name            TEXT NOT NULL UNIQUE,
				schedule        TEXT NOT NULL,
				event_name      TEXT NOT NULL,
				payload         BYTEA,
				codec           TEXT NOT NULL DEFAULT 'json',
				last_run_at     TIMESTAMPTZ,
				next_run_at     TIMESTAMPTZ,
				locked_by       TEXT NOT NULL DEFAULT '',
				locked_until    TIMESTAMPTZ,
				enabled         BOOLEAN NOT NULL DEFAULT TRUE,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_flume_cron_next
				ON flume_cron_entries (next_run_at)
				WHERE enabled = TRUE`,
		},
	},
	{
		name: "003_create_dlq_table",
		statements: []string{`
			CREATE TABLE IF NOT EXISTS flume_dlq (
				id              TEXT PRIMARY KEY,
				message_id      TEXT NOT NULL,
				trigger_id      TEXT NOT NULL,
				event_name      TEXT NOT NULL,
				job_name        TEXT NOT NULL,
				payload         BYTEA NOT NULL,
				codec           TEXT NOT NULL DEFAULT 'json',
				error           TEXT NOT NULL,
				attempts        INTEGER NOT NULL,
				max_attempts    INTEGER NOT NULL,
				failed_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				replayed_at     TIMESTAMPTZ,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_flume_dlq_failed
				ON flume_dlq (failed_at DESC)`,
		},
	},
	{
		name: "004_create_workers_table",
		statements: []string{`
			CREATE TABLE IF NOT EXISTS flume_workers (
				id              TEXT PRIMARY KEY,
				hostname        TEXT NOT NULL,
				jobs            TEXT[] DEFAULT '{}',
				concurrency     INTEGER NOT NULL DEFAULT 10,
				state           TEXT NOT NULL DEFAULT 'active',
				is_leader       BOOLEAN NOT NULL DEFAULT FALSE,
				leader_until    TIMESTAMPTZ,
				last_seen       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				metadata        JSONB DEFAULT '{}',
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_flume_workers_seen
				ON flume_workers (last_seen)`,
		},
	},
}
