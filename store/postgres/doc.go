// Package postgres implements store.Store on PostgreSQL using pgx/v5.
// Schema is managed through embedded SQL migrations applied in filename
// order and tracked in a conductor_migrations table.
package postgres
