package store

import (
	"context"
	"fmt"
)

// ScopeKind names an aggregation level.
type ScopeKind string

const (
	ScopeCycle    ScopeKind = "cycle"
	ScopeRun      ScopeKind = "run"
	ScopeInstance ScopeKind = "instance"
	ScopeGlobal   ScopeKind = "global"
)

// Scope selects the rows an aggregate covers. ID is ignored for ScopeGlobal.
type Scope struct {
	Kind ScopeKind
	ID   string
}

func CycleScope(id string) Scope    { return Scope{Kind: ScopeCycle, ID: id} }
func RunScope(id string) Scope      { return Scope{Kind: ScopeRun, ID: id} }
func InstanceScope(id string) Scope { return Scope{Kind: ScopeInstance, ID: id} }
func GlobalScope() Scope            { return Scope{Kind: ScopeGlobal} }

// where returns the predicate over the c/r/i aliases every aggregate joins.
func (s Scope) where() (string, []any, error) {
	switch s.Kind {
	case ScopeCycle:
		return "c.id = ?", []any{s.ID}, nil
	case ScopeRun:
		return "r.id = ?", []any{s.ID}, nil
	case ScopeInstance:
		return "i.id = ?", []any{s.ID}, nil
	case ScopeGlobal, "":
		return "1 = 1", nil, nil
	}
	return "", nil, invalid("unknown scope %q", s.Kind)
}

// The join chain every aggregate walks. Inner joins keep orphaned rows out of
// every total.
const (
	recommendationJoin = `
		FROM recommendations rec
		JOIN cycles c ON c.id = rec.cycle_id
		JOIN runs r ON r.id = c.run_id
		JOIN instances i ON i.id = r.instance_id`

	tradeJoin = `
		FROM trades t
		JOIN recommendations rec ON rec.id = t.recommendation_id
		JOIN cycles c ON c.id = rec.cycle_id
		JOIN runs r ON r.id = c.run_id
		JOIN instances i ON i.id = r.instance_id`

	executedTrade = `t.status NOT IN ('rejected', 'cancelled', 'error')`
)

// StatsResult is the same shape at every scope.
type StatsResult struct {
	ImagesAnalyzed    int64   `json:"images_analyzed"`
	ValidSignals      int64   `json:"valid_signals"`
	AvgConfidence     float64 `json:"avg_confidence"`
	ActionablePercent float64 `json:"actionable_percent"`
	TotalTrades       int64   `json:"total_trades"`
	WinCount          int64   `json:"win_count"`
	LossCount         int64   `json:"loss_count"`
	TotalPnL          float64 `json:"total_pnl"`
}

// GetStats computes recommendation and executed-trade aggregates for scope.
// A recommendation is actionable when it is not a hold and both confidence and
// risk:reward reach the owning instance's thresholds.
func (s *Store) GetStats(ctx context.Context, scope Scope) (*StatsResult, error) {
	pred, args, err := scope.where()
	if err != nil {
		return nil, err
	}

	recRow, err := s.q.QueryOne(ctx, fmt.Sprintf(`
		SELECT
			COUNT(rec.id) AS images_analyzed,
			COALESCE(SUM(CASE
				WHEN LOWER(rec.action) <> 'hold'
					AND rec.confidence >= COALESCE(i.min_confidence, %[1]v)
					AND COALESCE(rec.risk_reward, 0) >= COALESCE(i.min_risk_reward, %[2]v)
				THEN 1 ELSE 0 END), 0) AS valid_signals,
			COALESCE(AVG(rec.confidence), 0) AS avg_confidence
		%[3]s
		WHERE %[4]s`, DefaultMinConfidence, DefaultMinRiskReward, recommendationJoin, pred), args...)
	if err != nil {
		return nil, fmt.Errorf("%s recommendation stats: %w", scope.Kind, err)
	}

	tradeRow, err := s.q.QueryOne(ctx, `
		SELECT
			COUNT(t.id) AS total_trades,
			COALESCE(SUM(CASE WHEN t.pnl > 0 THEN 1 ELSE 0 END), 0) AS win_count,
			COALESCE(SUM(CASE WHEN t.pnl < 0 THEN 1 ELSE 0 END), 0) AS loss_count,
			COALESCE(SUM(t.pnl), 0) AS total_pnl
		`+tradeJoin+`
		WHERE `+pred+` AND `+executedTrade, args...)
	if err != nil {
		return nil, fmt.Errorf("%s trade stats: %w", scope.Kind, err)
	}

	out := &StatsResult{
		ImagesAnalyzed: recRow.Int("images_analyzed"),
		ValidSignals:   recRow.Int("valid_signals"),
		AvgConfidence:  recRow.Float("avg_confidence"),
		TotalTrades:    tradeRow.Int("total_trades"),
		WinCount:       tradeRow.Int("win_count"),
		LossCount:      tradeRow.Int("loss_count"),
		TotalPnL:       tradeRow.Float("total_pnl"),
	}
	if out.ImagesAnalyzed > 0 {
		out.ActionablePercent = float64(out.ValidSignals) / float64(out.ImagesAnalyzed) * 100
	}
	return out, nil
}

func (s *Store) GetStatsByCycleID(ctx context.Context, cycleID string) (*StatsResult, error) {
	return s.GetStats(ctx, CycleScope(cycleID))
}

func (s *Store) GetStatsByRunID(ctx context.Context, runID string) (*StatsResult, error) {
	return s.GetStats(ctx, RunScope(runID))
}

func (s *Store) GetStatsByInstanceID(ctx context.Context, instanceID string) (*StatsResult, error) {
	return s.GetStats(ctx, InstanceScope(instanceID))
}

func (s *Store) GetGlobalStats(ctx context.Context) (*StatsResult, error) {
	return s.GetStats(ctx, GlobalScope())
}

// RollUp is the counter set attached to every hierarchy node.
type RollUp struct {
	TotalCycles          int64   `json:"total_cycles"`
	TotalRecommendations int64   `json:"total_recommendations"`
	TotalTrades          int64   `json:"total_trades"`
	WinCount             int64   `json:"win_count"`
	LossCount            int64   `json:"loss_count"`
	TotalPnL             float64 `json:"total_pnl"`
}

// GetRollUp counts cycles, recommendations and executed trades under scope
// with aggregate queries.
func (s *Store) GetRollUp(ctx context.Context, scope Scope) (*RollUp, error) {
	pred, args, err := scope.where()
	if err != nil {
		return nil, err
	}
	cycleRow, err := s.q.QueryOne(ctx, `
		SELECT COUNT(c.id) AS total_cycles
		FROM cycles c
		JOIN runs r ON r.id = c.run_id
		JOIN instances i ON i.id = r.instance_id
		WHERE `+pred, args...)
	if err != nil {
		return nil, fmt.Errorf("%s cycle roll-up: %w", scope.Kind, err)
	}
	stats, err := s.GetStats(ctx, scope)
	if err != nil {
		return nil, err
	}
	return &RollUp{
		TotalCycles:          cycleRow.Int("total_cycles"),
		TotalRecommendations: stats.ImagesAnalyzed,
		TotalTrades:          stats.TotalTrades,
		WinCount:             stats.WinCount,
		LossCount:            stats.LossCount,
		TotalPnL:             stats.TotalPnL,
	}, nil
}
