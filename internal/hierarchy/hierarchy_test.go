package hierarchy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashboard-core/internal/store"
	"dashboard-core/pkg/db"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	database, err := db.New(db.Options{Kind: db.KindSQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(context.Background(), database))
	return store.New(database, nil)
}

func pnl(v float64) *float64 { return &v }

// seed creates one instance with two runs of three cycles each. Every cycle
// gets two recommendations and a mix of winning, losing, open, rejected and
// cancelled trades; the first trade of each cycle also records a fill.
func seed(t *testing.T, s *store.Store) *store.Instance {
	t.Helper()
	ctx := context.Background()

	inst, err := s.CreateInstance(ctx, store.Instance{Name: "alpha", Timeframe: "4h"})
	require.NoError(t, err)

	for r := 0; r < 2; r++ {
		run, err := s.CreateRun(ctx, store.Run{InstanceID: inst.ID})
		require.NoError(t, err)
		for c := 0; c < 3; c++ {
			cycle, err := s.CreateCycle(ctx, store.Cycle{RunID: run.ID})
			require.NoError(t, err)

			long, err := s.CreateRecommendation(ctx, store.Recommendation{CycleID: cycle.ID, Symbol: "ETHUSDT", Action: "buy", Confidence: 0.8, RiskReward: pnl(2)})
			require.NoError(t, err)
			_, err = s.CreateRecommendation(ctx, store.Recommendation{CycleID: cycle.ID, Symbol: "ETHUSDT", Action: "hold", Confidence: 0.4})
			require.NoError(t, err)

			trades := []store.Trade{
				{Status: store.TradeClosed, PnL: pnl(float64(10 * (c + 1)))},
				{Status: store.TradeClosed, PnL: pnl(-4), DryRun: true},
				{Status: store.TradeFilled},
				{Status: store.TradeRejected, RejectionReason: "max positions"},
				{Status: store.TradeCancelled, PnL: pnl(3)},
			}
			for i, tr := range trades {
				tr.RecommendationID = long.ID
				tr.Quantity = 1
				created, err := s.CreateTrade(ctx, tr)
				require.NoError(t, err)
				if i == 0 {
					_, err = s.CreateExecution(ctx, store.Execution{TradeID: created.ID, ExecType: "entry", Quantity: 1, Price: 2000})
					require.NoError(t, err)
				}
			}
		}
	}
	return inst
}

func TestRollUpsMatchNestedTree(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	tree, err := New(s, nil).GetInstancesWithHierarchy(context.Background(), 5, false)
	require.NoError(t, err)
	require.Len(t, tree, 1)

	inst := tree[0]
	require.Len(t, inst.Runs, 2)
	for _, run := range inst.Runs {
		require.Len(t, run.Cycles, 3)
		assert.Equal(t, run.Sum(), run.RollUp)
		for _, c := range run.Cycles {
			assert.Equal(t, c.Sum(), c.RollUp)
			require.Len(t, c.Recommendations, 2)
		}
	}
	assert.Equal(t, inst.Sum(), inst.RollUp)

	assert.Equal(t, store.RollUp{
		TotalCycles:          6,
		TotalRecommendations: 12,
		TotalTrades:          18,
		WinCount:             6,
		LossCount:            6,
		TotalPnL:             96,
	}, inst.RollUp)

	assert.Equal(t, int64(2), inst.Summary.TotalRuns)
	assert.True(t, inst.Summary.Running)
	assert.Equal(t, int64(6), inst.Summary.Metrics.Live.Wins)
	assert.Equal(t, int64(6), inst.Summary.Metrics.Dry.Losses)
	assert.InDelta(t, 20, inst.Summary.Metrics.Live.AvgWin, 1e-9)
}

func TestTreeCarriesExecutionsAndLatestCyclesFirst(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	runs, err := New(s, nil).GetRunsWithHierarchy(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	cycles := runs[0].Cycles
	require.Len(t, cycles, 3)
	for i := 1; i < len(cycles); i++ {
		assert.False(t, cycles[i].StartedAt.After(cycles[i-1].StartedAt))
	}

	var fills int
	for _, c := range cycles {
		for _, rec := range c.Recommendations {
			for _, tr := range rec.Trades {
				fills += len(tr.Executions)
				assert.Equal(t, runs[0].ID, tr.RunID)
				assert.Equal(t, c.ID, tr.CycleID)
			}
		}
	}
	assert.Equal(t, 3, fills)
}

func TestRunLimitAndActiveFilter(t *testing.T) {
	s := newTestStore(t)
	inst := seed(t, s)
	ctx := context.Background()

	tree, err := New(s, nil).GetInstancesWithHierarchy(ctx, 1, false)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Len(t, tree[0].Runs, 1)
	// Roll-ups still cover every run, not just the ones shown.
	assert.Equal(t, int64(6), tree[0].RollUp.TotalCycles)

	require.NoError(t, s.DeactivateInstance(ctx, inst.ID))
	active, err := New(s, nil).GetInstancesWithHierarchy(ctx, 1, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}
