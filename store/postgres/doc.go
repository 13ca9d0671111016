// Package postgres provides a PostgreSQL store and notifier using pgx/v5.
//
// The store is the durability and coordination layer: every job state
// transition is a single conditional UPDATE keyed on the current state
// and lease owner, so concurrent workers on separate processes never
// need any coordination beyond the database itself. Claims use
// FOR UPDATE SKIP LOCKED, ordered channels are gated by a claim-time
// predicate over lower-sequence siblings, and wake-ups ride on
// LISTEN/NOTIFY with a mandatory polling fallback in every consumer.
package postgres
