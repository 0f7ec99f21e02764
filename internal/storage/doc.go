// Package storage is the durable State Store.
//
// It holds users, the content catalog, per-user exposures, per-(user, query)
// search history, cooldown entries and the curator audit log. Uniqueness
// invariants are enforced by primary keys and idempotent inserts
// (ON CONFLICT DO NOTHING), never by application locks.
//
// Two drivers share one schema: "sqlite" (modernc, embedded file) and
// "postgres" (pgx). Timestamps are unix milliseconds.
package storage
