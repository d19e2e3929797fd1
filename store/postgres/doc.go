// Package postgres implements the timeli stores using pgx/v5 with raw SQL.
// It covers the document stores (apps, appointments, notification rules,
// tracking events) and a job.Store with SKIP LOCKED dequeue, with
// embedded SQL migrations.
package postgres
