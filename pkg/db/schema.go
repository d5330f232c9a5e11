package db

import (
	"context"
	"fmt"
	"strings"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS instances (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    prompt_name TEXT,
    prompt_version TEXT,
    symbols TEXT NOT NULL DEFAULT '[]',
    timeframe TEXT,
    min_confidence REAL,
    min_risk_reward REAL,
    settings TEXT NOT NULL DEFAULT '{}',
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TEXT NOT NULL,
    ended_at TEXT,
    stop_reason TEXT,
    timeframe TEXT,
    symbols TEXT NOT NULL DEFAULT '[]',
    config_snapshot TEXT NOT NULL DEFAULT '{}',
    pid INTEGER,
    FOREIGN KEY(instance_id) REFERENCES instances(id)
);

CREATE TABLE IF NOT EXISTS cycles (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    cycle_number INTEGER NOT NULL,
    timeframe TEXT,
    status TEXT NOT NULL,
    started_at TEXT NOT NULL,
    completed_at TEXT,
    charts_captured INTEGER NOT NULL DEFAULT 0,
    analyses_completed INTEGER NOT NULL DEFAULT 0,
    recommendations_generated INTEGER NOT NULL DEFAULT 0,
    trades_executed INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    FOREIGN KEY(run_id) REFERENCES runs(id)
);

CREATE TABLE IF NOT EXISTS recommendations (
    id TEXT PRIMARY KEY,
    cycle_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    timeframe TEXT,
    action TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    entry_price REAL,
    stop_loss REAL,
    take_profit REAL,
    risk_reward REAL,
    reasoning TEXT,
    chart_path TEXT,
    model_name TEXT,
    prompt_name TEXT,
    prompt_version TEXT,
    created_at TEXT NOT NULL,
    FOREIGN KEY(cycle_id) REFERENCES cycles(id)
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    recommendation_id TEXT NOT NULL,
    run_id TEXT,
    cycle_id TEXT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity REAL NOT NULL DEFAULT 0,
    entry_price REAL,
    exit_price REAL,
    stop_loss REAL,
    take_profit REAL,
    order_id TEXT,
    status TEXT NOT NULL,
    pnl REAL,
    pnl_percent REAL,
    dry_run INTEGER NOT NULL DEFAULT 0,
    rejection_reason TEXT,
    submitted_at TEXT,
    filled_at TEXT,
    closed_at TEXT,
    created_at TEXT NOT NULL,
    FOREIGN KEY(recommendation_id) REFERENCES recommendations(id)
);

CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    trade_id TEXT NOT NULL,
    order_id TEXT,
    exec_type TEXT,
    quantity REAL NOT NULL DEFAULT 0,
    price REAL NOT NULL DEFAULT 0,
    fee REAL NOT NULL DEFAULT 0,
    pnl REAL NOT NULL DEFAULT 0,
    executed_at TEXT NOT NULL,
    FOREIGN KEY(trade_id) REFERENCES trades(id)
);

CREATE TABLE IF NOT EXISTS bot_process (
    instance_id TEXT PRIMARY KEY,
    running INTEGER NOT NULL DEFAULT 0,
    pid INTEGER,
    recent_logs TEXT NOT NULL DEFAULT '[]',
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_instance ON runs(instance_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_cycles_run ON cycles(run_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_recs_cycle ON recommendations(cycle_id);
CREATE INDEX IF NOT EXISTS idx_trades_rec ON trades(recommendation_id);
CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);
CREATE INDEX IF NOT EXISTS idx_exec_trade ON executions(trade_id)
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS instances (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    prompt_name TEXT,
    prompt_version TEXT,
    symbols TEXT NOT NULL DEFAULT '[]',
    timeframe TEXT,
    min_confidence DOUBLE PRECISION,
    min_risk_reward DOUBLE PRECISION,
    settings TEXT NOT NULL DEFAULT '{}',
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL REFERENCES instances(id),
    status TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    ended_at TIMESTAMPTZ,
    stop_reason TEXT,
    timeframe TEXT,
    symbols TEXT NOT NULL DEFAULT '[]',
    config_snapshot TEXT NOT NULL DEFAULT '{}',
    pid INTEGER
);

CREATE TABLE IF NOT EXISTS cycles (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id),
    cycle_number INTEGER NOT NULL,
    timeframe TEXT,
    status TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ,
    charts_captured INTEGER NOT NULL DEFAULT 0,
    analyses_completed INTEGER NOT NULL DEFAULT 0,
    recommendations_generated INTEGER NOT NULL DEFAULT 0,
    trades_executed INTEGER NOT NULL DEFAULT 0,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS recommendations (
    id TEXT PRIMARY KEY,
    cycle_id TEXT NOT NULL REFERENCES cycles(id),
    symbol TEXT NOT NULL,
    timeframe TEXT,
    action TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    entry_price DOUBLE PRECISION,
    stop_loss DOUBLE PRECISION,
    take_profit DOUBLE PRECISION,
    risk_reward DOUBLE PRECISION,
    reasoning TEXT,
    chart_path TEXT,
    model_name TEXT,
    prompt_name TEXT,
    prompt_version TEXT,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    recommendation_id TEXT NOT NULL REFERENCES recommendations(id),
    run_id TEXT,
    cycle_id TEXT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
    entry_price DOUBLE PRECISION,
    exit_price DOUBLE PRECISION,
    stop_loss DOUBLE PRECISION,
    take_profit DOUBLE PRECISION,
    order_id TEXT,
    status TEXT NOT NULL,
    pnl DOUBLE PRECISION,
    pnl_percent DOUBLE PRECISION,
    dry_run BOOLEAN NOT NULL DEFAULT FALSE,
    rejection_reason TEXT,
    submitted_at TIMESTAMPTZ,
    filled_at TIMESTAMPTZ,
    closed_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    trade_id TEXT NOT NULL REFERENCES trades(id),
    order_id TEXT,
    exec_type TEXT,
    quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
    price DOUBLE PRECISION NOT NULL DEFAULT 0,
    fee DOUBLE PRECISION NOT NULL DEFAULT 0,
    pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
    executed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS bot_process (
    instance_id TEXT PRIMARY KEY,
    running INTEGER NOT NULL DEFAULT 0,
    pid INTEGER,
    recent_logs TEXT NOT NULL DEFAULT '[]',
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_instance ON runs(instance_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_cycles_run ON cycles(run_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_recs_cycle ON recommendations(cycle_id);
CREATE INDEX IF NOT EXISTS idx_trades_rec ON trades(recommendation_id);
CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);
CREATE INDEX IF NOT EXISTS idx_exec_trade ON executions(trade_id)
`

// columnPatch is a lightweight, idempotent migration for older database files.
type columnPatch struct {
	table, column, sqliteDef, postgresDef string
}

var columnPatches = []columnPatch{
	{"runs", "pid", "INTEGER", "INTEGER"},
	{"trades", "pnl_percent", "REAL", "DOUBLE PRECISION"},
	{"instances", "min_risk_reward", "REAL", "DOUBLE PRECISION"},
}

// ApplyMigrations bootstraps the schema for the active backend; keep it
// lightweight for fast startup.
func ApplyMigrations(ctx context.Context, d *Database) error {
	if d == nil || d.drv == nil {
		return fmt.Errorf("database is not initialized")
	}

	schema := sqliteSchema
	if d.kind == KindPostgres {
		schema = postgresSchema
	}
	for _, stmt := range splitStatements(schema) {
		if _, err := d.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	for _, p := range columnPatches {
		if err := ensureColumn(ctx, d, p); err != nil {
			return err
		}
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(ctx context.Context, d *Database, p columnPatch) error {
	if d.kind == KindPostgres {
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", p.table, p.column, p.postgresDef)
		if _, err := d.Execute(ctx, alter); err != nil {
			return fmt.Errorf("alter table %s add column %s: %w", p.table, p.column, err)
		}
		return nil
	}

	exists, err := columnExists(ctx, d, p.table, p.column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", p.table, p.column, p.sqliteDef)
	if _, err := d.Execute(ctx, alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", p.table, p.column, err)
	}
	return nil
}

func columnExists(ctx context.Context, d *Database, table, column string) (bool, error) {
	rows, err := d.QueryMany(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	for _, r := range rows {
		if r.String("name") == column {
			return true, nil
		}
	}
	return false, nil
}

// Tables lists the tables the schema defines, in creation order.
func Tables() []string {
	return []string{"instances", "runs", "cycles", "recommendations", "trades", "executions", "bot_process"}
}

func splitStatements(schema string) []string {
	parts := strings.Split(schema, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
