// Package bunstore provides a Bun ORM store and notifier over
// PostgreSQL. It implements the same contract and the same schema as
// the pgx store; the two are interchangeable and can even share one
// database. Use this backend when the surrounding application already
// runs on Bun and wants a single database handle.
//
// Claims and sequence assignment go through raw SQL because they
// depend on FOR UPDATE SKIP LOCKED and an upsert-returning counter,
// which have no query-builder equivalent.
package bunstore
