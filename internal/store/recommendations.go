package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"dashboard-core/pkg/db"
)

const recommendationColumns = `rec.id, rec.cycle_id, rec.symbol, rec.timeframe, rec.action,
	rec.confidence, rec.entry_price, rec.stop_loss, rec.take_profit, rec.risk_reward, rec.reasoning,
	rec.chart_path, rec.model_name, rec.prompt_name, rec.prompt_version, rec.created_at`

// RecommendationFilter narrows ListRecommendations. Limit <= 0 means all.
type RecommendationFilter struct {
	InstanceID string
	RunID      string
	CycleID    string
	Symbol     string
	Limit      int
}

func scanRecommendation(r db.Row) *Recommendation {
	return &Recommendation{
		ID:            r.String("id"),
		CycleID:       r.String("cycle_id"),
		Symbol:        r.String("symbol"),
		Timeframe:     r.String("timeframe"),
		Action:        r.String("action"),
		Confidence:    r.Float("confidence"),
		EntryPrice:    r.FloatPtr("entry_price"),
		StopLoss:      r.FloatPtr("stop_loss"),
		TakeProfit:    r.FloatPtr("take_profit"),
		RiskReward:    r.FloatPtr("risk_reward"),
		Reasoning:     r.String("reasoning"),
		ChartPath:     r.String("chart_path"),
		ModelName:     r.String("model_name"),
		PromptName:    r.String("prompt_name"),
		PromptVersion: r.String("prompt_version"),
		CreatedAt:     r.Time("created_at"),
	}
}

func scanRecommendations(rows []db.Row) []Recommendation {
	out := make([]Recommendation, 0, len(rows))
	for _, r := range rows {
		out = append(out, *scanRecommendation(r))
	}
	return out
}

// ListRecommendationsByCycle returns a cycle's recommendations in creation order.
func (s *Store) ListRecommendationsByCycle(ctx context.Context, cycleID string) ([]Recommendation, error) {
	rows, err := s.q.QueryMany(ctx, `
		SELECT `+recommendationColumns+` FROM recommendations rec
		WHERE rec.cycle_id = ?
		ORDER BY rec.created_at, rec.id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	return scanRecommendations(rows), nil
}

// ListRecommendations returns recommendations newest first, walking up the
// hierarchy for run and instance filters.
func (s *Store) ListRecommendations(ctx context.Context, f RecommendationFilter) ([]Recommendation, error) {
	var (
		where []string
		args  []any
	)
	if f.InstanceID != "" {
		where = append(where, "r.instance_id = ?")
		args = append(args, f.InstanceID)
	}
	if f.RunID != "" {
		where = append(where, "c.run_id = ?")
		args = append(args, f.RunID)
	}
	if f.CycleID != "" {
		where = append(where, "rec.cycle_id = ?")
		args = append(args, f.CycleID)
	}
	if f.Symbol != "" {
		where = append(where, "rec.symbol = ?")
		args = append(args, f.Symbol)
	}

	query := `SELECT ` + recommendationColumns + `
		FROM recommendations rec
		JOIN cycles c ON c.id = rec.cycle_id
		JOIN runs r ON r.id = c.run_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY rec.created_at DESC, rec.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.q.QueryMany(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	return scanRecommendations(rows), nil
}

// GetRecommendation returns nil when the id is unknown.
func (s *Store) GetRecommendation(ctx context.Context, id string) (*Recommendation, error) {
	row, err := s.q.QueryOne(ctx,
		`SELECT `+recommendationColumns+` FROM recommendations rec WHERE rec.id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get recommendation: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return scanRecommendation(row), nil
}

// CreateRecommendation appends a signal to an existing cycle.
func (s *Store) CreateRecommendation(ctx context.Context, rec Recommendation) (*Recommendation, error) {
	rec.Symbol = strings.TrimSpace(rec.Symbol)
	rec.Action = strings.ToLower(strings.TrimSpace(rec.Action))
	switch {
	case rec.CycleID == "":
		return nil, invalid("recommendation cycle_id is required")
	case rec.Symbol == "":
		return nil, invalid("recommendation symbol is required")
	case rec.Action == "":
		return nil, invalid("recommendation action is required")
	case rec.Confidence < 0 || rec.Confidence > 1:
		return nil, invalid("confidence %v outside [0,1]", rec.Confidence)
	}
	cycle, err := s.GetCycle(ctx, rec.CycleID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, invalid("cycle %s does not exist", rec.CycleID)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timeframe == "" {
		rec.Timeframe = cycle.Timeframe
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	_, err = s.q.Execute(ctx, `
		INSERT INTO recommendations (id, cycle_id, symbol, timeframe, action, confidence,
			entry_price, stop_loss, take_profit, risk_reward, reasoning, chart_path,
			model_name, prompt_name, prompt_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CycleID, rec.Symbol, nullString(rec.Timeframe), rec.Action, rec.Confidence,
		nullFloat(rec.EntryPrice), nullFloat(rec.StopLoss), nullFloat(rec.TakeProfit),
		nullFloat(rec.RiskReward), nullString(rec.Reasoning), nullString(rec.ChartPath),
		nullString(rec.ModelName), nullString(rec.PromptName), nullString(rec.PromptVersion),
		db.Timestamp(&rec.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create recommendation: %w", err)
	}
	return s.GetRecommendation(ctx, rec.ID)
}
