// Package database provides the PostgreSQL connection pool and schema for
// the event journal.
//
// The journal is append-only: trigger and trade rows are inserted, never
// updated. Migrations are embedded and idempotent.
package database
