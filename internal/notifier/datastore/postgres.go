package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/notifyhub/service-notification-processor/pkg/logger"
	"github.com/notifyhub/service-notification-processor/pkg/metrics"
)

// PostgresDB implements DB against a pgxpool connection pool.
type PostgresDB struct {
	pool    *pgxpool.Pool
	log     *logger.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewPostgres opens a connection pool per Options.
func NewPostgres(opts Options, log *logger.Logger, m *metrics.Metrics) (*PostgresDB, error) {
	cfg, err := pgxpool.ParseConfig(fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		opts.User, opts.Password, opts.Host, opts.Port, opts.Database,
	))
	if err != nil {
		return nil, fmt.Errorf("datastore: parse config: %w", err)
	}

	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	cfg.MaxConnLifetime = opts.MaxConnLifetime
	cfg.ConnConfig.ConnectTimeout = opts.DialTimeout

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("datastore: new pool: %w", err)
	}

	return &PostgresDB{
		pool:    pool,
		log:     log,
		metrics: m,
		tracer:  otel.GetTracerProvider().Tracer("notifier-datastore"),
	}, nil
}

func (db *PostgresDB) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return db.tracer.Start(ctx, "datastore."+op,
		trace.WithAttributes(attribute.String("db.system", "postgresql")),
	)
}

func (db *PostgresDB) record(op string, start time.Time, err error) {
	if db.metrics == nil {
		return
	}
	db.metrics.DatastoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		db.metrics.DatastoreErrors.WithLabelValues(op).Inc()
	}
}

func (db *PostgresDB) Exec(ctx context.Context, sql string, args ...interface{}) (CommandTag, error) {
	ctx, span := db.startSpan(ctx, "exec")
	defer span.End()

	start := time.Now()
	tag, err := db.pool.Exec(ctx, sql, args...)
	db.record("exec", start, err)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("datastore: exec: %w", err)
	}
	return pgCommandTag{tag}, nil
}

func (db *PostgresDB) Query(ctx context.Context, sql string, args ...interface{}) (Rows, error) {
	ctx, span := db.startSpan(ctx, "query")
	defer span.End()

	start := time.Now()
	rows, err := db.pool.Query(ctx, sql, args...)
	db.record("query", start, err)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("datastore: query: %w", err)
	}
	return rows, nil
}

func (db *PostgresDB) QueryRow(ctx context.Context, sql string, args ...interface{}) Row {
	ctx, span := db.startSpan(ctx, "query_row")
	defer span.End()

	start := time.Now()
	row := db.pool.QueryRow(ctx, sql, args...)
	db.record("query_row", start, nil)
	return row
}

func (db *PostgresDB) Close() { db.pool.Close() }

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *PostgresDB) Stats() Stats {
	s := db.pool.Stat()
	return Stats{
		MaxConns:      s.MaxConns(),
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
	}
}

type pgCommandTag struct {
	inner interface{ RowsAffected() int64 }
}

func (t pgCommandTag) RowsAffected() int64 { return t.inner.RowsAffected() }
