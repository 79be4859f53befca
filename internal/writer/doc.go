// Package writer journals session events to PostgreSQL.
//
// The Journal is a strategy: it receives every decoded event, buffers it,
// and batch-inserts trigger events into vi_triggers and trade ticks into
// trade_ticks. Inserts are append-only with ON CONFLICT DO NOTHING on each
// table's natural key, so replayed frames after a reconnect are dropped
// rather than duplicated.
//
// Prices are stored as NUMERIC; quote-only and other event kinds are
// ignored.
package writer
