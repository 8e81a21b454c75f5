// Package postgres implements the Temporal Store on PostgreSQL via
// pgx/pgxpool: full-text search over canonical_name, trigram similarity
// over aliases, and partial unique indexes enforcing the "one open SCD2
// version" invariant. Business logic here is a direct port of the
// original ontology service's registry/edges/attributes/cache modules,
// adapted from a borrowed-connection style to a pooled one.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/skywalkerx28/nexus/internal/ontoerr"
	"github.com/skywalkerx28/nexus/internal/store"
)

// Config holds connection and pool parameters. Field names mirror the
// ONTOLOGY_DB_* environment variables the config package loads.
type Config struct {
	Host             string
	Port             int
	Database         string
	User             string
	Password         string
	StatementTimeout time.Duration
	PoolMinConns     int32
	PoolMaxConns     int32
}

// DSN builds a libpq connection string from the config.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=prefer",
		c.Host, c.Port, c.Database, c.User, c.Password)
}

// Store is the pgxpool-backed Temporal Store.
type Store struct {
	pool             *pgxpool.Pool
	statementTimeout time.Duration
}

// Open creates a connection pool and verifies connectivity. Callers must
// call Close when done.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.PoolMinConns > 0 {
		poolCfg.MinConns = cfg.PoolMinConns
	}
	if cfg.PoolMaxConns > 0 {
		poolCfg.MaxConns = cfg.PoolMaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Store{pool: pool, statementTimeout: cfg.StatementTimeout}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.statementTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.statementTimeout)
}

// ontologyTracer is the OTel tracer for SQL-level spans, following the
// same per-backend tracer-and-meter pattern the rest of the pack's
// storage backends use.
var ontologyTracer = otel.Tracer("github.com/skywalkerx28/nexus/store/postgres")

var ontologyMetrics struct {
	retryCount metric.Int64Counter
	execMs     metric.Float64Histogram
}

func init() {
	m := otel.Meter("github.com/skywalkerx28/nexus/store/postgres")
	ontologyMetrics.retryCount, _ = m.Int64Counter("ontology.db.retry_count",
		metric.WithDescription("statements retried due to transient connection errors"),
		metric.WithUnit("{retry}"),
	)
	ontologyMetrics.execMs, _ = m.Float64Histogram("ontology.db.exec_ms",
		metric.WithDescription("time spent executing a single statement"),
		metric.WithUnit("ms"),
	)
}

func newRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	return bo
}

// isRetryable reports whether err is a transient connection failure
// worth retrying, as opposed to a constraint violation or syntax error
// that retrying would never fix.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" // connection exception class
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr)
}

func (s *Store) withRetry(ctx context.Context, op func() error) error {
	attempts := 0
	bo := newRetryBackoff()
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err != nil && isRetryable(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if attempts > 1 {
		ontologyMetrics.retryCount.Add(ctx, int64(attempts-1))
	}
	return err
}

func spanSQL(q string) string {
	if len(q) > 300 {
		return q[:300] + "…"
	}
	return q
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ontoerr.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the
// statement helpers below work whether a component method runs against
// the bare pool or an internally-opened transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) exec(ctx context.Context, q querier, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := ontologyTracer.Start(ctx, "postgres.exec",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.statement", spanSQL(sql))),
	)
	var tag pgconn.CommandTag
	start := time.Now()
	err := s.withRetry(ctx, func() error {
		var execErr error
		tag, execErr = q.Exec(ctx, sql, args...)
		return execErr
	})
	ontologyMetrics.execMs.Record(ctx, float64(time.Since(start))/float64(time.Millisecond))
	translated := TranslateError(err)
	endSpan(span, translated)
	return tag, translated
}

func (s *Store) query(ctx context.Context, q querier, sql string, args ...any) (pgx.Rows, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, span := ontologyTracer.Start(ctx, "postgres.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.statement", spanSQL(sql))),
	)
	rows, err := q.Query(ctx, sql, args...)
	translated := TranslateError(err)
	endSpan(span, translated)
	if translated != nil {
		return nil, translated
	}
	return rows, nil
}

func (s *Store) queryRow(ctx context.Context, q querier, sql string, args ...any) pgx.Row {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return q.QueryRow(ctx, sql, args...)
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error including a panic. Used by the SCD2 methods (AddEdge,
// UpsertAttribute) and the batch variants, which need the change-check
// and the close-then-insert to be atomic against concurrent writers.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return TranslateError(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return TranslateError(tx.Commit(ctx))
}

// postgres unique-violation constraint names for the partial unique
// indexes schema.go declares, mapped to the specific sentinel each
// caller expects rather than a single generic ErrStorage.
const (
	constraintIdentifierOpenUnique = "identifiers_scheme_value_open_uidx"
	constraintEdgeOpenUnique       = "edges_open_uidx"
	constraintAttributeOpenUnique  = "attributes_open_uidx"
)

// TranslateError maps a pgx/pgconn error into the ontology error
// taxonomy. Exported so callers assembling ad hoc statements can reuse
// the same mapping.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w", ontoerr.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			switch pgErr.ConstraintName {
			case constraintIdentifierOpenUnique:
				return fmt.Errorf("%w: %s", ontoerr.ErrIdentifierCollision, pgErr.Message)
			case constraintEdgeOpenUnique:
				return fmt.Errorf("%w: %s", ontoerr.ErrEdgeConflict, pgErr.Message)
			case constraintAttributeOpenUnique:
				return fmt.Errorf("%w: %s", ontoerr.ErrAttributeConflict, pgErr.Message)
			default:
				return fmt.Errorf("%w: %s", ontoerr.ErrStorage, pgErr.Message)
			}
		case "57014": // query_canceled (statement_timeout)
			return fmt.Errorf("%w: statement timeout", ontoerr.ErrStorage)
		}
	}
	return fmt.Errorf("%w: %v", ontoerr.ErrStorage, err)
}

var _ store.Store = (*Store)(nil)
