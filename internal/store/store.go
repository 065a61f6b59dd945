// Package store provides storage backends for IntakePipe.
//
// The only persisted state is the inbound event log used to drop Slack's
// retried deliveries. Sessions live in memory (see package session).
package store

import (
	"log/slog"
	"strings"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // database connection string or SQLite file path
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// Store is a DedupRepo that holds resources.
type Store interface {
	DedupRepo
	Close() error
}

// DetectDSNType returns "postgres" for PostgreSQL URLs and key/value
// connection strings, "sqlite" otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") || strings.Contains(d, "user=") {
		return "postgres"
	}
	return "sqlite"
}

// Open picks a backend for dsn. An empty dsn gives an in-memory store.
func Open(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		slog.Debug("Store.Open: no DSN, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		slog.Debug("Store.Open: using PostgreSQL")
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	slog.Debug("Store.Open: using SQLite", "path", dsn)
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}
