// Package postgres implements store.Store on PostgreSQL using pgx/v5.
// Dequeue uses FOR UPDATE SKIP LOCKED so concurrent consumers never claim
// the same row.
package postgres
