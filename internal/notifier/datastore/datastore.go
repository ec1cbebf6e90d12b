// Package datastore persists UserLoginRecord rows: the set of (user_id,
// client_id) pairs a user has authenticated to.
package datastore

import (
	"context"
	"time"
)

// DB is the minimal pool surface the login repository needs. Modeled as an
// interface so tests can substitute a fake without a live Postgres.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) Row
	Close()
	Ping(ctx context.Context) error
	Stats() Stats
}

// Row mirrors pgx.Row.
type Row interface {
	Scan(dest ...interface{}) error
}

// Rows mirrors pgx.Rows.
type Rows interface {
	Close()
	Err() error
	Next() bool
	Scan(dest ...interface{}) error
}

// CommandTag mirrors pgconn.CommandTag.
type CommandTag interface {
	RowsAffected() int64
}

// Stats reports pool utilization for the ops surface.
type Stats struct {
	MaxConns    int32
	TotalConns  int32
	IdleConns   int32
	AcquiredConns int32
}

// Options configures the Postgres connection pool.
type Options struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	DialTimeout     time.Duration
}
