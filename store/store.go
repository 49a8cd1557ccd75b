// Package store defines the aggregate persistence interface. Each subsystem
// (queue, cron, dlq, cluster) defines its own store interface. The composite
// Store composes them all. Backends: Postgres, Bun, SQLite, Redis, and Memory.
package store

import (
	"context"

	"github.com/surehelp/flume/cluster"
	"github.com/surehelp/flume/cron"
	"github.com/surehelp/flume/dlq"
	"github.com/surehelp/flume/queue"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, bun, sqlite, etc.) implements all of them.
type Store interface {
	queue.Store
	cron.Store
	dlq.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
