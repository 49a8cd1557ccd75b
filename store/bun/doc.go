// Package bunstore implements store.Store on the Bun ORM with the
// PostgreSQL dialect. It offers the same semantics as the pgx-based
// postgres package for applications that already carry a *bun.DB.
package bunstore
