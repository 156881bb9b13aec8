// Package postgres provides the PostgreSQL implementation of store.BatchStore,
// the connection helper used by the server, and the embedded goose
// migrations that create its schema.
package postgres
