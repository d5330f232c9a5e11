// Package hierarchy assembles the Instance → Run → Cycle → Recommendation →
// Trade → Execution tree for drill-down views.
//
// Each level is fetched with its own scoped query per parent. Roll-up counters
// come from aggregate queries, never from summing the nested nodes, so the two
// can be checked against each other.
package hierarchy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dashboard-core/internal/store"
)

// DefaultRunLimit bounds runs per instance when the caller passes 0.
const DefaultRunLimit = 10

type TradeNode struct {
	store.Trade
	Executions []store.Execution `json:"executions"`
}

type RecommendationNode struct {
	store.Recommendation
	Trades []TradeNode `json:"trades"`
}

type CycleNode struct {
	store.Cycle
	RollUp          store.RollUp         `json:"rollup"`
	Recommendations []RecommendationNode `json:"recommendations"`
}

type RunNode struct {
	store.Run
	RollUp store.RollUp `json:"rollup"`
	Cycles []CycleNode  `json:"cycles"`
}

// InstanceSummary carries the per-instance headline figures.
type InstanceSummary struct {
	TotalRuns int64              `json:"total_runs"`
	Running   bool               `json:"running"`
	Metrics   store.TradeMetrics `json:"metrics"`
}

type InstanceNode struct {
	store.Instance
	RollUp  store.RollUp    `json:"rollup"`
	Summary InstanceSummary `json:"summary"`
	Runs    []RunNode       `json:"runs"`
}

// Assembler walks the store top-down.
type Assembler struct {
	store *store.Store
	log   *zap.Logger
}

func New(s *store.Store, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{store: s, log: logger}
}

// GetInstancesWithHierarchy returns every instance (or only active ones) with
// its latest runLimit runs and everything beneath them.
func (a *Assembler) GetInstancesWithHierarchy(ctx context.Context, runLimit int, activeOnly bool) ([]InstanceNode, error) {
	if runLimit <= 0 {
		runLimit = DefaultRunLimit
	}
	instances, err := a.store.ListInstances(ctx, activeOnly)
	if err != nil {
		return nil, err
	}

	out := make([]InstanceNode, 0, len(instances))
	for _, inst := range instances {
		node, err := a.instanceNode(ctx, inst, runLimit)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	a.log.Debug("assembled instance hierarchy",
		zap.Int("instances", len(out)),
		zap.Int("run_limit", runLimit),
	)
	return out, nil
}

// GetRunsWithHierarchy returns the latest limit runs across all instances.
func (a *Assembler) GetRunsWithHierarchy(ctx context.Context, limit int) ([]RunNode, error) {
	if limit <= 0 {
		limit = DefaultRunLimit
	}
	runs, err := a.store.ListRuns(ctx, store.RunFilter{Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]RunNode, 0, len(runs))
	for _, run := range runs {
		node, err := a.runNode(ctx, run)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

func (a *Assembler) instanceNode(ctx context.Context, inst store.Instance, runLimit int) (InstanceNode, error) {
	node := InstanceNode{Instance: inst}

	roll, err := a.store.GetRollUp(ctx, store.InstanceScope(inst.ID))
	if err != nil {
		return node, fmt.Errorf("instance %s: %w", inst.ID, err)
	}
	node.RollUp = *roll

	summary, err := a.summary(ctx, inst.ID)
	if err != nil {
		return node, fmt.Errorf("instance %s: %w", inst.ID, err)
	}
	node.Summary = summary

	runs, err := a.store.ListRuns(ctx, store.RunFilter{InstanceID: inst.ID, Limit: runLimit})
	if err != nil {
		return node, err
	}
	node.Runs = make([]RunNode, 0, len(runs))
	for _, run := range runs {
		rn, err := a.runNode(ctx, run)
		if err != nil {
			return node, err
		}
		node.Runs = append(node.Runs, rn)
	}
	return node, nil
}

func (a *Assembler) summary(ctx context.Context, instanceID string) (InstanceSummary, error) {
	var sum InstanceSummary

	row, err := a.store.Querier().QueryOne(ctx,
		`SELECT COUNT(id) AS total_runs FROM runs WHERE instance_id = ?`, instanceID)
	if err != nil {
		return sum, fmt.Errorf("count runs: %w", err)
	}
	sum.TotalRuns = row.Int("total_runs")

	running, err := a.store.GetRunningRun(ctx, instanceID)
	if err != nil {
		return sum, err
	}
	sum.Running = running != nil

	metrics, err := a.store.GetTradeMetrics(ctx, store.InstanceScope(instanceID))
	if err != nil {
		return sum, err
	}
	sum.Metrics = *metrics
	return sum, nil
}

func (a *Assembler) runNode(ctx context.Context, run store.Run) (RunNode, error) {
	node := RunNode{Run: run}

	roll, err := a.store.GetRollUp(ctx, store.RunScope(run.ID))
	if err != nil {
		return node, fmt.Errorf("run %s: %w", run.ID, err)
	}
	node.RollUp = *roll

	cycles, err := a.store.ListCyclesByRun(ctx, run.ID, 0)
	if err != nil {
		return node, err
	}
	node.Cycles = make([]CycleNode, 0, len(cycles))
	for _, c := range cycles {
		cn, err := a.cycleNode(ctx, c)
		if err != nil {
			return node, err
		}
		node.Cycles = append(node.Cycles, cn)
	}
	return node, nil
}

func (a *Assembler) cycleNode(ctx context.Context, c store.Cycle) (CycleNode, error) {
	node := CycleNode{Cycle: c}

	roll, err := a.store.GetRollUp(ctx, store.CycleScope(c.ID))
	if err != nil {
		return node, fmt.Errorf("cycle %s: %w", c.ID, err)
	}
	node.RollUp = *roll

	recs, err := a.store.ListRecommendationsByCycle(ctx, c.ID)
	if err != nil {
		return node, err
	}
	node.Recommendations = make([]RecommendationNode, 0, len(recs))
	for _, rec := range recs {
		trades, err := a.store.ListTradesByRecommendation(ctx, rec.ID)
		if err != nil {
			return node, err
		}
		rn := RecommendationNode{Recommendation: rec, Trades: make([]TradeNode, 0, len(trades))}
		for _, t := range trades {
			execs, err := a.store.ListExecutionsByTrade(ctx, t.ID)
			if err != nil {
				return node, err
			}
			rn.Trades = append(rn.Trades, TradeNode{Trade: t, Executions: execs})
		}
		node.Recommendations = append(node.Recommendations, rn)
	}
	return node, nil
}

// Sum folds the nested tree under a run into the same counters a roll-up
// query reports.
func (r RunNode) Sum() store.RollUp {
	var out store.RollUp
	for _, c := range r.Cycles {
		out = add(out, c.Sum())
	}
	return out
}

// Sum counts this cycle, its recommendations and their executed trades.
func (c CycleNode) Sum() store.RollUp {
	out := store.RollUp{TotalCycles: 1, TotalRecommendations: int64(len(c.Recommendations))}
	for _, rec := range c.Recommendations {
		for _, t := range rec.Trades {
			if !t.Executed() {
				continue
			}
			out.TotalTrades++
			if t.PnL == nil {
				continue
			}
			out.TotalPnL += *t.PnL
			switch {
			case *t.PnL > 0:
				out.WinCount++
			case *t.PnL < 0:
				out.LossCount++
			}
		}
	}
	return out
}

// Sum folds every run under the instance.
func (n InstanceNode) Sum() store.RollUp {
	var out store.RollUp
	for _, r := range n.Runs {
		out = add(out, r.Sum())
	}
	return out
}

func add(a, b store.RollUp) store.RollUp {
	a.TotalCycles += b.TotalCycles
	a.TotalRecommendations += b.TotalRecommendations
	a.TotalTrades += b.TotalTrades
	a.WinCount += b.WinCount
	a.LossCount += b.LossCount
	a.TotalPnL += b.TotalPnL
	return a
}
