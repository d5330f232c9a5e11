package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSideAndBlend(t *testing.T) {
	live := ComputeSide(SideTotals{Trades: 3, Wins: 2, Losses: 1, TotalPnL: 120, GrossWin: 150, GrossLoss: 30})
	assert.InDelta(t, 2.0/3.0, live.WinRate, 1e-9)
	assert.InDelta(t, 75, live.AvgWin, 1e-9)
	assert.InDelta(t, 30, live.AvgLoss, 1e-9)
	assert.InDelta(t, 40, live.ExpectedValue, 1e-9)

	dry := ComputeSide(SideTotals{Trades: 3, Wins: 1, Losses: 2, TotalPnL: 0, GrossWin: 10, GrossLoss: 10})
	assert.InDelta(t, 1.0/3.0, dry.WinRate, 1e-9)
	assert.InDelta(t, 10, dry.AvgWin, 1e-9)
	assert.InDelta(t, 5, dry.AvgLoss, 1e-9)
	assert.InDelta(t, 0, dry.ExpectedValue, 1e-9)

	total := Blend(live, dry)
	assert.Equal(t, int64(6), total.Trades)
	assert.InDelta(t, 0.5, total.WinRate, 1e-9)
	assert.InDelta(t, 42.5, total.AvgWin, 1e-9)
	assert.InDelta(t, 17.5, total.AvgLoss, 1e-9)
	assert.InDelta(t, 12.5, total.ExpectedValue, 1e-9)
	assert.InDelta(t, 120, total.TotalPnL, 1e-9)
}

func TestBlendFallsBackToSideWithSamples(t *testing.T) {
	live := ComputeSide(SideTotals{Trades: 2, Wins: 1, Losses: 1, GrossWin: 40, GrossLoss: 20, TotalPnL: 20})
	dry := ComputeSide(SideTotals{Trades: 1, Wins: 1, GrossWin: 8, TotalPnL: 8})

	total := Blend(live, dry)
	assert.InDelta(t, 24, total.AvgWin, 1e-9)
	assert.InDelta(t, 20, total.AvgLoss, 1e-9)

	empty := Blend(SideMetrics{}, SideMetrics{})
	assert.Zero(t, empty.WinRate)
	assert.Zero(t, empty.ExpectedValue)
}

func TestGetTradeMetricsScenario(t *testing.T) {
	f := newFixture(t)
	inst := f.instance("alpha")
	c := f.cycle(f.run(inst.ID).ID)
	rec := f.rec(c.ID, "buy", 0.9, 2)

	for _, pnl := range []float64{100, 50, -30} {
		f.trade(rec.ID, TradeClosed, f64(pnl), false)
	}
	for _, pnl := range []float64{10, -5, -5} {
		f.trade(rec.ID, TradeClosed, f64(pnl), true)
	}
	// Terminal non-execution statuses never count, even with a pnl recorded.
	f.trade(rec.ID, TradeRejected, f64(500), false)
	f.trade(rec.ID, TradeCancelled, f64(-500), true)

	for _, scope := range []Scope{CycleScope(c.ID), RunScope(c.RunID), InstanceScope(inst.ID), GlobalScope()} {
		m, err := f.s.GetTradeMetrics(f.ctx, scope)
		require.NoError(t, err)

		assert.Equal(t, int64(3), m.Live.Trades, scope.Kind)
		assert.InDelta(t, 40, m.Live.ExpectedValue, 1e-9, scope.Kind)
		assert.InDelta(t, 120, m.Live.TotalPnL, 1e-9, scope.Kind)
		assert.Equal(t, int64(3), m.Dry.Trades, scope.Kind)
		assert.InDelta(t, 0, m.Dry.ExpectedValue, 1e-9, scope.Kind)
		assert.InDelta(t, 12.5, m.Total.ExpectedValue, 1e-9, scope.Kind)
		assert.InDelta(t, 0.5, m.Total.WinRate, 1e-9, scope.Kind)
	}
}

func TestGetTradeMetricsEmptyScope(t *testing.T) {
	f := newFixture(t)
	inst := f.instance("idle")

	m, err := f.s.GetTradeMetrics(f.ctx, InstanceScope(inst.ID))
	require.NoError(t, err)
	assert.Equal(t, TradeMetrics{}, *m)

	_, err = f.s.GetTradeMetrics(f.ctx, Scope{Kind: "portfolio", ID: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
