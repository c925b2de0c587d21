// Package postgres implements work.Store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED claim, group ordering through a per-group sequence
// row, bundles stored as JSONB, embedded SQL migrations.
package postgres
