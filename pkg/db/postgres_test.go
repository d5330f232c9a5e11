package db

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRows struct {
	fields []string
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *fakeRows) Close()                        { r.closed = true }
func (r *fakeRows) Err() error                    { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(r.fields))
	for i, f := range r.fields {
		out[i] = pgconn.FieldDescription{Name: f}
	}
	return out
}
func (r *fakeRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}
func (r *fakeRows) Scan(...any) error       { return errors.New("not supported") }
func (r *fakeRows) Values() ([]any, error)  { return r.data[r.idx-1], nil }
func (r *fakeRows) RawValues() [][]byte     { return nil }
func (r *fakeRows) Conn() *pgx.Conn         { return nil }

type fakePool struct {
	queryErr error
	rows     func() pgx.Rows
	execTag  string
	queries  []string
	closed   atomic.Bool
}

func (p *fakePool) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	p.queries = append(p.queries, sql)
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	return p.rows(), nil
}

func (p *fakePool) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	p.queries = append(p.queries, sql)
	if p.queryErr != nil {
		return pgconn.CommandTag{}, p.queryErr
	}
	return pgconn.NewCommandTag(p.execTag), nil
}

func (p *fakePool) Close() { p.closed.Store(true) }

func newFakeDriver(pools *[]*fakePool, mk func() *fakePool, resets *int) *postgresDriver {
	d := &postgresDriver{
		policy: RetryPolicy{MaxRetries: 3, Sleep: func(time.Duration) {}},
		log:    zap.NewNop(),
		hooks:  Hooks{OnPoolReset: func() { *resets++ }},
	}
	d.connect = func(context.Context) (pgPool, error) {
		p := mk()
		*pools = append(*pools, p)
		return p, nil
	}
	return d
}

func TestPostgresDriverRetriesWithFreshPool(t *testing.T) {
	var pools []*fakePool
	var resets int
	d := newFakeDriver(&pools, func() *fakePool {
		return &fakePool{queryErr: &pgconn.PgError{Code: "08006"}}
	}, &resets)

	_, err := d.query(context.Background(), `SELECT * FROM runs WHERE id = ?`, []any{"r1"})

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "08006", pgErr.Code)
	assert.Len(t, pools, 4, "one fresh pool per attempt")
	assert.Equal(t, 4, resets)
	assert.Equal(t, []string{`SELECT * FROM runs WHERE id = $1`}, pools[0].queries)
	assert.Eventually(t, func() bool { return pools[0].closed.Load() }, time.Second, 5*time.Millisecond)
}

func TestPostgresDriverNonRetryableKeepsPool(t *testing.T) {
	var pools []*fakePool
	var resets int
	d := newFakeDriver(&pools, func() *fakePool {
		return &fakePool{queryErr: &pgconn.PgError{Code: "23503"}}
	}, &resets)

	_, err := d.exec(context.Background(), `INSERT INTO trades (id) VALUES (?)`, []any{"t1"})

	require.Error(t, err)
	assert.Len(t, pools, 1)
	assert.Zero(t, resets)
	assert.False(t, pools[0].closed.Load())
}

func TestPostgresDriverNormalizesRows(t *testing.T) {
	created := time.Date(2026, 2, 3, 4, 5, 6, 700_000_000, time.UTC)
	var pools []*fakePool
	var resets int
	d := newFakeDriver(&pools, func() *fakePool {
		return &fakePool{rows: func() pgx.Rows {
			return &fakeRows{
				fields: []string{"id", "dry_run", "created_at", "cycle_number", "total_pnl"},
				data: [][]any{
					{"t1", true, created, int32(4), pgtype.Numeric{Int: big.NewInt(125), Exp: -1, Valid: true}},
					{"t2", false, created, int32(5), pgtype.Numeric{}},
				},
			}
		}}
	}, &resets)

	rows, err := d.query(context.Background(), `SELECT 1`, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(1), rows[0]["dry_run"])
	assert.Equal(t, int64(0), rows[1]["dry_run"])
	assert.Equal(t, "2026-02-03T04:05:06.700Z", rows[0]["created_at"])
	assert.Equal(t, int64(4), rows[0]["cycle_number"])
	assert.InDelta(t, 12.5, rows[0].Float("total_pnl"), 1e-9)
	assert.Nil(t, rows[1]["total_pnl"])
}

func TestPostgresDriverDropsPartialResults(t *testing.T) {
	var pools []*fakePool
	var resets int
	calls := 0
	d := newFakeDriver(&pools, func() *fakePool {
		return &fakePool{rows: func() pgx.Rows {
			calls++
			r := &fakeRows{fields: []string{"id"}, data: [][]any{{"a"}, {"b"}}}
			if calls == 1 {
				r.err = errors.New("unexpected EOF: connection reset")
			}
			return r
		}}
	}, &resets)

	rows, err := d.query(context.Background(), `SELECT id FROM trades`, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2, "the failed attempt's rows are discarded")
	assert.Equal(t, 1, resets)
}

func TestPostgresDriverExecAffectedCount(t *testing.T) {
	var pools []*fakePool
	var resets int
	d := newFakeDriver(&pools, func() *fakePool {
		return &fakePool{execTag: "UPDATE 3"}
	}, &resets)

	n, err := d.exec(context.Background(), `UPDATE runs SET status = ? WHERE instance_id = ?`, []any{"stopped", "i1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, []string{`UPDATE runs SET status = $1 WHERE instance_id = $2`}, pools[0].queries)
}

func TestPostgresDriverClose(t *testing.T) {
	var pools []*fakePool
	var resets int
	d := newFakeDriver(&pools, func() *fakePool { return &fakePool{execTag: "DELETE 0"} }, &resets)

	_, err := d.exec(context.Background(), `SELECT 1`, nil)
	require.NoError(t, err)
	require.NoError(t, d.close())
	assert.True(t, pools[0].closed.Load())

	_, err = d.exec(context.Background(), `SELECT 1`, nil)
	assert.ErrorIs(t, err, ErrClosed)
}
