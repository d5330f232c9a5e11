package db

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	defaultPoolMax        = 10
	defaultIdleTimeout    = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// pgPool is the subset of *pgxpool.Pool the driver needs.
type pgPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// postgresDriver holds a disposable pool. resetPool drops the current pool so
// the next call builds a fresh one.
type postgresDriver struct {
	connect func(ctx context.Context) (pgPool, error)
	policy  RetryPolicy
	hooks   Hooks
	log     *zap.Logger

	pool   atomic.Pointer[pgPool]
	initMu sync.Mutex
	closed atomic.Bool
}

func newPostgresDriver(opts Options, logger *zap.Logger) *postgresDriver {
	d := &postgresDriver{
		policy: opts.Retry,
		hooks:  opts.Hooks,
		log:    logger,
	}
	d.connect = func(ctx context.Context) (pgPool, error) {
		pool, err := openPool(ctx, opts)
		if err != nil {
			return nil, err
		}
		return pool, nil
	}
	return d
}

func openPool(ctx context.Context, opts Options) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	maxConns := opts.PoolMax
	if maxConns <= 0 {
		maxConns = defaultPoolMax
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	cfg.MaxConns = maxConns
	cfg.MaxConnIdleTime = idle
	cfg.ConnConfig.ConnectTimeout = connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return pool, nil
}

func (p *postgresDriver) getPool(ctx context.Context) (pgPool, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	if cur := p.pool.Load(); cur != nil {
		return *cur, nil
	}

	p.initMu.Lock()
	defer p.initMu.Unlock()
	if cur := p.pool.Load(); cur != nil {
		return *cur, nil
	}

	pool, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	p.pool.Store(&pool)
	return pool, nil
}

// resetPool discards the current pool. In-flight calls on the old pool finish
// or fail on their own; closing happens in the background and never errors.
func (p *postgresDriver) resetPool() {
	old := p.pool.Swap(nil)
	if p.hooks.OnPoolReset != nil {
		p.hooks.OnPoolReset()
	}
	if old == nil {
		return
	}
	p.log.Warn("resetting postgres pool")
	go func(pool pgPool) {
		defer func() { _ = recover() }()
		pool.Close()
	}(*old)
}

func (p *postgresDriver) query(ctx context.Context, query string, args []any) ([]Row, error) {
	sql := RewritePlaceholders(query)

	var out []Row
	err := withRetry(p.policy, p.resetPool, p.onRetry, func() error {
		pool, err := p.getPool(ctx)
		if err != nil {
			return err
		}
		rows, err := pool.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		collected, err := collectRows(rows)
		if err != nil {
			return err
		}
		out = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres query: %w", err)
	}
	return out, nil
}

func (p *postgresDriver) exec(ctx context.Context, query string, args []any) (int64, error) {
	sql := RewritePlaceholders(query)

	var affected int64
	err := withRetry(p.policy, p.resetPool, p.onRetry, func() error {
		pool, err := p.getPool(ctx)
		if err != nil {
			return err
		}
		tag, err := pool.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("postgres exec: %w", err)
	}
	return affected, nil
}

func (p *postgresDriver) onRetry(attempt int, err error) {
	p.log.Warn("retrying postgres call",
		zap.Int("attempt", attempt),
		zap.Error(err),
	)
	if p.hooks.OnRetry != nil {
		p.hooks.OnRetry(attempt, err)
	}
}

func (p *postgresDriver) close() error {
	p.closed.Store(true)
	if old := p.pool.Swap(nil); old != nil {
		(*old).Close()
	}
	return nil
}

// collectRows drains rows into normalized Rows. Nothing is returned unless
// the whole result set was read without error.
func collectRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([]Row, 0)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(fields))
		for i, f := range fields {
			if i < len(vals) {
				row[f.Name] = coerceValue(vals[i])
			}
		}
		out = append(out, NormalizeRow(row))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
