package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedCycle writes four recommendations and five trades into a new cycle:
// one live win, one dry loss, one open trade, one rejected and one cancelled.
func seedCycle(f *fixture, runID string) *Cycle {
	c := f.cycle(runID)
	buy := f.rec(c.ID, "buy", 0.7, 2)
	f.rec(c.ID, "hold", 0.9, 3)
	f.rec(c.ID, "sell", 0.85, 1.2)
	sell := f.rec(c.ID, "sell", 0.9, 2)

	f.trade(buy.ID, TradeClosed, f64(20), false)
	f.trade(sell.ID, TradeClosed, f64(-10), true)
	f.trade(sell.ID, TradeSubmitted, nil, false)
	f.trade(buy.ID, TradeRejected, nil, false)
	f.trade(buy.ID, TradeCancelled, f64(5), false)
	return c
}

func sumStats(parts []*StatsResult) StatsResult {
	var out StatsResult
	for _, p := range parts {
		out.ImagesAnalyzed += p.ImagesAnalyzed
		out.ValidSignals += p.ValidSignals
		out.TotalTrades += p.TotalTrades
		out.WinCount += p.WinCount
		out.LossCount += p.LossCount
		out.TotalPnL += p.TotalPnL
	}
	return out
}

func assertAdditive(t *testing.T, want StatsResult, got *StatsResult, msg string) {
	t.Helper()
	assert.Equal(t, want.ImagesAnalyzed, got.ImagesAnalyzed, msg)
	assert.Equal(t, want.ValidSignals, got.ValidSignals, msg)
	assert.Equal(t, want.TotalTrades, got.TotalTrades, msg)
	assert.Equal(t, want.WinCount, got.WinCount, msg)
	assert.Equal(t, want.LossCount, got.LossCount, msg)
	assert.InDelta(t, want.TotalPnL, got.TotalPnL, 1e-9, msg)
}

func TestStatsAreConsistentAcrossScopes(t *testing.T) {
	f := newFixture(t)

	loose := f.instance("loose")
	strict, err := f.s.CreateInstance(f.ctx, Instance{Name: "strict", MinConfidence: f64(0.8)})
	require.NoError(t, err)

	var instanceStats []*StatsResult
	for _, inst := range []*Instance{loose, strict} {
		var runStats []*StatsResult
		for r := 0; r < 2; r++ {
			run := f.run(inst.ID)
			var cycleStats []*StatsResult
			for c := 0; c < 2; c++ {
				cycle := seedCycle(f, run.ID)
				st, err := f.s.GetStatsByCycleID(f.ctx, cycle.ID)
				require.NoError(t, err)
				cycleStats = append(cycleStats, st)
			}
			st, err := f.s.GetStatsByRunID(f.ctx, run.ID)
			require.NoError(t, err)
			assertAdditive(t, sumStats(cycleStats), st, "cycles sum to run")
			runStats = append(runStats, st)
		}
		st, err := f.s.GetStatsByInstanceID(f.ctx, inst.ID)
		require.NoError(t, err)
		assertAdditive(t, sumStats(runStats), st, "runs sum to instance")
		instanceStats = append(instanceStats, st)
	}

	// An orphaned trade pointing at nothing must not leak into totals.
	_, err = f.s.Querier().Execute(f.ctx, `
		INSERT INTO trades (id, recommendation_id, symbol, side, quantity, status, pnl, dry_run, created_at)
		VALUES ('orphan', 'no-such-rec', 'BTCUSDT', 'buy', 1, 'closed', 999, 0, '2024-01-01T00:00:00.000Z')`)
	require.NoError(t, err)

	global, err := f.s.GetGlobalStats(f.ctx)
	require.NoError(t, err)
	assertAdditive(t, sumStats(instanceStats), global, "instances sum to global")

	assert.Equal(t, int64(32), global.ImagesAnalyzed)
	assert.Equal(t, int64(24), global.TotalTrades)
	assert.Equal(t, int64(8), global.WinCount)
	assert.Equal(t, int64(8), global.LossCount)
	assert.InDelta(t, 80, global.TotalPnL, 1e-9)

	// The loose instance accepts buy@0.7 and sell@0.9; the strict one only the latter.
	assert.Equal(t, int64(8), instanceStats[0].ValidSignals)
	assert.Equal(t, int64(4), instanceStats[1].ValidSignals)
	assert.InDelta(t, 50, instanceStats[0].ActionablePercent, 1e-9)
	assert.InDelta(t, 25, instanceStats[1].ActionablePercent, 1e-9)
	assert.InDelta(t, 0.8375, global.AvgConfidence, 1e-9)
}

func TestStatsForEmptyScope(t *testing.T) {
	f := newFixture(t)

	st, err := f.s.GetStatsByRunID(f.ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, StatsResult{}, *st)
}

func TestGetRollUp(t *testing.T) {
	f := newFixture(t)
	inst := f.instance("alpha")
	run := f.run(inst.ID)
	seedCycle(f, run.ID)
	seedCycle(f, run.ID)

	roll, err := f.s.GetRollUp(f.ctx, RunScope(run.ID))
	require.NoError(t, err)
	assert.Equal(t, RollUp{
		TotalCycles:          2,
		TotalRecommendations: 8,
		TotalTrades:          6,
		WinCount:             2,
		LossCount:            2,
		TotalPnL:             20,
	}, *roll)

	global, err := f.s.GetRollUp(f.ctx, GlobalScope())
	require.NoError(t, err)
	assert.Equal(t, *roll, *global)
}

func TestThresholdSettingsDriveValidSignals(t *testing.T) {
	f := newFixture(t)
	inst := f.instance("alpha")
	c := f.cycle(f.run(inst.ID).ID)
	f.rec(c.ID, "buy", 0.8, 2)

	stats, err := f.s.GetStatsByInstanceID(f.ctx, inst.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.ValidSignals)

	merged, err := f.s.UpdateInstanceSettings(f.ctx, inst.ID, map[string]any{
		SettingMinConfidence: 0.9,
		SettingMinRiskReward: 3.0,
		"openai.model":       "gpt-4o",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.9, merged[SettingMinConfidence])

	stats, err = f.s.GetStatsByInstanceID(f.ctx, inst.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.ValidSignals)
	assert.Zero(t, stats.ActionablePercent)

	// The blob keeps only the other keys; the thresholds live in their columns.
	row, err := f.s.Querier().QueryOne(f.ctx, `SELECT settings FROM instances WHERE id = ?`, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"openai.model":"gpt-4o"}`, row.String("settings"))

	got, err := f.s.GetInstance(f.ctx, inst.ID)
	require.NoError(t, err)
	minConf, minRR := got.Thresholds()
	assert.Equal(t, 0.9, minConf)
	assert.Equal(t, 3.0, minRR)
	assert.Equal(t, 0.9, got.Settings[SettingMinConfidence])

	// Removing the keys falls back to the defaults.
	_, err = f.s.UpdateInstanceSettings(f.ctx, inst.ID, map[string]any{
		SettingMinConfidence: nil,
		SettingMinRiskReward: nil,
	})
	require.NoError(t, err)
	stats, err = f.s.GetStatsByInstanceID(f.ctx, inst.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.ValidSignals)
}

func TestThresholdSettingsAreValidated(t *testing.T) {
	f := newFixture(t)
	inst := f.instance("alpha")

	_, err := f.s.UpdateInstanceSettings(f.ctx, inst.ID, map[string]any{SettingMinConfidence: 1.5})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.s.UpdateInstanceSettings(f.ctx, inst.ID, map[string]any{SettingMinRiskReward: "high"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	created, err := f.s.CreateInstance(f.ctx, Instance{
		Name:     "beta",
		Settings: map[string]any{SettingMinConfidence: 0.8, "trading.leverage": 2.0},
	})
	require.NoError(t, err)
	require.NotNil(t, created.MinConfidence)
	assert.Equal(t, 0.8, *created.MinConfidence)
	assert.Equal(t, map[string]any{SettingMinConfidence: 0.8, "trading.leverage": 2.0}, created.Settings)
}
