// Package db is the backend-agnostic query layer: one facade over an embedded
// SQLite file and a pooled PostgreSQL service.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Kind selects the physical backend.
type Kind string

const (
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

var (
	ErrUnknownKind = errors.New("unknown database backend")
	ErrClosed      = errors.New("database is closed")
)

// Result reports the outcome of a write.
type Result struct {
	AffectedCount int64
}

// Querier is the only surface the rest of the system uses. SQL is always
// written with '?' placeholders regardless of the active backend.
type Querier interface {
	QueryMany(ctx context.Context, query string, args ...any) ([]Row, error)
	QueryOne(ctx context.Context, query string, args ...any) (Row, error)
	Execute(ctx context.Context, query string, args ...any) (Result, error)
}

// Hooks lets callers observe the query path without the db package knowing
// about metrics. Any field may be nil.
type Hooks struct {
	OnQuery     func(op string, elapsed time.Duration, err error)
	OnRetry     func(attempt int, err error)
	OnPoolReset func()
}

// Options configures New.
type Options struct {
	Kind Kind

	// SQLite
	Path string

	// PostgreSQL
	URL            string
	PoolMax        int32
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	Retry          RetryPolicy

	Logger *zap.Logger
	Hooks  Hooks
}

// driver is implemented once per backend.
type driver interface {
	query(ctx context.Context, query string, args []any) ([]Row, error)
	exec(ctx context.Context, query string, args []any) (int64, error)
	close() error
}

// Database implements Querier for the backend chosen at construction.
type Database struct {
	kind  Kind
	drv   driver
	log   *zap.Logger
	hooks Hooks
}

var _ Querier = (*Database)(nil)

// New builds the facade. No connection is made until the first query.
func New(opts Options) (*Database, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("backend", string(opts.Kind)))

	var drv driver
	switch Kind(strings.ToLower(string(opts.Kind))) {
	case KindSQLite:
		if opts.Path == "" {
			return nil, errors.New("database path is empty")
		}
		drv = newSQLiteDriver(opts.Path)
		opts.Kind = KindSQLite
	case KindPostgres:
		if opts.URL == "" {
			return nil, errors.New("database url is empty")
		}
		drv = newPostgresDriver(opts, logger)
		opts.Kind = KindPostgres
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
	}

	return &Database{
		kind:  opts.Kind,
		drv:   drv,
		log:   logger,
		hooks: opts.Hooks,
	}, nil
}

// Kind reports the active backend.
func (d *Database) Kind() Kind {
	return d.kind
}

// QueryMany runs a read and returns every normalized row.
func (d *Database) QueryMany(ctx context.Context, query string, args ...any) ([]Row, error) {
	var rows []Row
	err := d.observe(ctx, "QueryMany", query, func(ctx context.Context) error {
		var err error
		rows, err = d.drv.query(ctx, query, args)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryOne returns the first row, or nil when nothing matched.
func (d *Database) QueryOne(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := d.QueryMany(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Execute runs a write and reports the affected row count.
func (d *Database) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	var n int64
	err := d.observe(ctx, "Execute", query, func(ctx context.Context) error {
		var err error
		n, err = d.drv.exec(ctx, query, args)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return Result{AffectedCount: n}, nil
}

// Ping checks connectivity with a trivial read.
func (d *Database) Ping(ctx context.Context) error {
	_, err := d.QueryOne(ctx, "SELECT 1 AS ok")
	return err
}

// Close releases the underlying handle or pool.
func (d *Database) Close() error {
	if d == nil || d.drv == nil {
		return nil
	}
	return d.drv.close()
}

func (d *Database) observe(ctx context.Context, op, query string, fn func(context.Context) error) error {
	ctx, span := otel.Tracer("dashboard-core/db").Start(ctx, "db."+op)
	span.SetAttributes(
		attribute.String("db.system", string(d.kind)),
		attribute.String("db.statement", compactSQL(query)),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if d.hooks.OnQuery != nil {
		d.hooks.OnQuery(op, elapsed, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.log.Debug("query failed",
			zap.String("op", op),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// compactSQL collapses whitespace so statements fit on one log/span line.
func compactSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
