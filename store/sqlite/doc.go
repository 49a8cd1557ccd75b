// Package sqlite implements store.Store on SQLite using database/sql
// and the mattn/go-sqlite3 driver. Suited to single-node deployments
// and embedded use; writes are serialized by SQLite itself, so Dequeue
// claims rows with a single atomic UPDATE ... RETURNING statement.
package sqlite
