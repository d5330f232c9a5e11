package store

import (
	"context"
	"fmt"
)

// SideTotals are the raw sums for one side (live or simulated) of a scope.
type SideTotals struct {
	Trades    int64
	Wins      int64
	Losses    int64
	TotalPnL  float64
	GrossWin  float64 // sum of pnl over winning trades
	GrossLoss float64 // sum of |pnl| over losing trades
}

// SideMetrics is the win-rate and expected-value breakdown for one side.
type SideMetrics struct {
	Trades        int64   `json:"trades"`
	Wins          int64   `json:"wins"`
	Losses        int64   `json:"losses"`
	TotalPnL      float64 `json:"total_pnl"`
	WinRate       float64 `json:"win_rate"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	ExpectedValue float64 `json:"expected_value"`
}

// TradeMetrics keeps live and simulated trades apart and adds a blended total.
type TradeMetrics struct {
	Live  SideMetrics `json:"live"`
	Dry   SideMetrics `json:"dry"`
	Total SideMetrics `json:"total"`
}

func expectedValue(wins, losses int64, avgWin, avgLoss float64) (winRate, ev float64) {
	closed := wins + losses
	if closed == 0 {
		return 0, 0
	}
	winRate = float64(wins) / float64(closed)
	lossRate := float64(losses) / float64(closed)
	return winRate, winRate*avgWin - lossRate*avgLoss
}

// ComputeSide derives rates and averages from raw totals.
func ComputeSide(t SideTotals) SideMetrics {
	m := SideMetrics{
		Trades:   t.Trades,
		Wins:     t.Wins,
		Losses:   t.Losses,
		TotalPnL: t.TotalPnL,
	}
	if t.Wins > 0 {
		m.AvgWin = t.GrossWin / float64(t.Wins)
	}
	if t.Losses > 0 {
		m.AvgLoss = t.GrossLoss / float64(t.Losses)
	}
	m.WinRate, m.ExpectedValue = expectedValue(t.Wins, t.Losses, m.AvgWin, m.AvgLoss)
	return m
}

// Blend combines live and simulated metrics. Counts and pnl add up; the
// average win and loss are the mean of the two sides' averages, or the one
// side that has samples.
func Blend(live, dry SideMetrics) SideMetrics {
	m := SideMetrics{
		Trades:   live.Trades + dry.Trades,
		Wins:     live.Wins + dry.Wins,
		Losses:   live.Losses + dry.Losses,
		TotalPnL: live.TotalPnL + dry.TotalPnL,
		AvgWin:   blendAverage(live.AvgWin, live.Wins, dry.AvgWin, dry.Wins),
		AvgLoss:  blendAverage(live.AvgLoss, live.Losses, dry.AvgLoss, dry.Losses),
	}
	m.WinRate, m.ExpectedValue = expectedValue(m.Wins, m.Losses, m.AvgWin, m.AvgLoss)
	return m
}

func blendAverage(a float64, an int64, b float64, bn int64) float64 {
	switch {
	case an > 0 && bn > 0:
		return (a + b) / 2
	case an > 0:
		return a
	case bn > 0:
		return b
	}
	return 0
}

// GetTradeMetrics aggregates executed trades under scope, split by dry_run.
func (s *Store) GetTradeMetrics(ctx context.Context, scope Scope) (*TradeMetrics, error) {
	pred, args, err := scope.where()
	if err != nil {
		return nil, err
	}
	rows, err := s.q.QueryMany(ctx, `
		SELECT
			CASE WHEN t.dry_run THEN 1 ELSE 0 END AS dry,
			COUNT(t.id) AS trades,
			COALESCE(SUM(CASE WHEN t.pnl > 0 THEN 1 ELSE 0 END), 0) AS wins,
			COALESCE(SUM(CASE WHEN t.pnl < 0 THEN 1 ELSE 0 END), 0) AS losses,
			COALESCE(SUM(t.pnl), 0) AS total_pnl,
			COALESCE(SUM(CASE WHEN t.pnl > 0 THEN t.pnl ELSE 0 END), 0) AS gross_win,
			COALESCE(SUM(CASE WHEN t.pnl < 0 THEN -t.pnl ELSE 0 END), 0) AS gross_loss
		`+tradeJoin+`
		WHERE `+pred+` AND `+executedTrade+`
		GROUP BY CASE WHEN t.dry_run THEN 1 ELSE 0 END`, args...)
	if err != nil {
		return nil, fmt.Errorf("%s trade metrics: %w", scope.Kind, err)
	}

	var live, dry SideTotals
	for _, r := range rows {
		t := SideTotals{
			Trades:    r.Int("trades"),
			Wins:      r.Int("wins"),
			Losses:    r.Int("losses"),
			TotalPnL:  r.Float("total_pnl"),
			GrossWin:  r.Float("gross_win"),
			GrossLoss: r.Float("gross_loss"),
		}
		if r.Int("dry") == 1 {
			dry = t
		} else {
			live = t
		}
	}

	out := &TradeMetrics{Live: ComputeSide(live), Dry: ComputeSide(dry)}
	out.Total = Blend(out.Live, out.Dry)
	return out, nil
}
