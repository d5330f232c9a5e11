package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"dashboard-core/pkg/db"
)

const cycleColumns = `id, run_id, cycle_number, timeframe, status, started_at, completed_at,
	charts_captured, analyses_completed, recommendations_generated, trades_executed, error_message`

func scanCycle(r db.Row) *Cycle {
	return &Cycle{
		ID:                       r.String("id"),
		RunID:                    r.String("run_id"),
		CycleNumber:              r.Int("cycle_number"),
		Timeframe:                r.String("timeframe"),
		Status:                   r.String("status"),
		StartedAt:                r.Time("started_at"),
		CompletedAt:              r.TimePtr("completed_at"),
		ChartsCaptured:           r.Int("charts_captured"),
		AnalysesCompleted:        r.Int("analyses_completed"),
		RecommendationsGenerated: r.Int("recommendations_generated"),
		TradesExecuted:           r.Int("trades_executed"),
		ErrorMessage:             r.String("error_message"),
	}
}

// ListCyclesByRun returns a run's cycles, latest start first. limit <= 0
// returns all of them.
func (s *Store) ListCyclesByRun(ctx context.Context, runID string, limit int) ([]Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE run_id = ?
		ORDER BY started_at DESC, cycle_number DESC`
	args := []any{runID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q.QueryMany(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	out := make([]Cycle, 0, len(rows))
	for _, r := range rows {
		out = append(out, *scanCycle(r))
	}
	return out, nil
}

// GetCycle returns nil when the id is unknown.
func (s *Store) GetCycle(ctx context.Context, id string) (*Cycle, error) {
	row, err := s.q.QueryOne(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get cycle: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return scanCycle(row), nil
}

// CreateCycle appends a cycle to a run. A zero CycleNumber takes the next
// number in the run.
func (s *Store) CreateCycle(ctx context.Context, c Cycle) (*Cycle, error) {
	if c.RunID == "" {
		return nil, invalid("cycle run_id is required")
	}
	run, err := s.GetRun(ctx, c.RunID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, invalid("run %s does not exist", c.RunID)
	}

	if c.CycleNumber == 0 {
		row, err := s.q.QueryOne(ctx,
			`SELECT COALESCE(MAX(cycle_number), 0) AS last FROM cycles WHERE run_id = ?`, c.RunID)
		if err != nil {
			return nil, fmt.Errorf("next cycle number: %w", err)
		}
		c.CycleNumber = row.Int("last") + 1
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = "running"
	}
	if c.Timeframe == "" {
		c.Timeframe = run.Timeframe
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = s.now()
	}

	_, err = s.q.Execute(ctx, `
		INSERT INTO cycles (id, run_id, cycle_number, timeframe, status, started_at, completed_at,
			charts_captured, analyses_completed, recommendations_generated, trades_executed, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RunID, c.CycleNumber, nullString(c.Timeframe), c.Status,
		db.Timestamp(&c.StartedAt), db.Timestamp(c.CompletedAt),
		c.ChartsCaptured, c.AnalysesCompleted, c.RecommendationsGenerated, c.TradesExecuted,
		nullString(c.ErrorMessage),
	)
	if err != nil {
		return nil, fmt.Errorf("create cycle: %w", err)
	}
	return s.GetCycle(ctx, c.ID)
}

// CycleUpdate holds the progress fields a running cycle reports.
type CycleUpdate struct {
	Status                   *string
	Completed                bool
	ChartsCaptured           *int64
	AnalysesCompleted        *int64
	RecommendationsGenerated *int64
	TradesExecuted           *int64
	ErrorMessage             *string
}

// UpdateCycle applies u. Completed stamps completed_at with the current time.
func (s *Store) UpdateCycle(ctx context.Context, id string, u CycleUpdate) error {
	var set setClause
	if u.Status != nil {
		set.add("status", *u.Status)
	}
	if u.Completed {
		now := s.now()
		set.add("completed_at", db.Timestamp(&now))
	}
	if u.ChartsCaptured != nil {
		set.add("charts_captured", *u.ChartsCaptured)
	}
	if u.AnalysesCompleted != nil {
		set.add("analyses_completed", *u.AnalysesCompleted)
	}
	if u.RecommendationsGenerated != nil {
		set.add("recommendations_generated", *u.RecommendationsGenerated)
	}
	if u.TradesExecuted != nil {
		set.add("trades_executed", *u.TradesExecuted)
	}
	if u.ErrorMessage != nil {
		set.add("error_message", nullString(*u.ErrorMessage))
	}
	if set.empty() {
		return invalid("cycle update has no fields")
	}

	args := append(set.args, id)
	res, err := s.q.Execute(ctx, `UPDATE cycles SET `+set.String()+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update cycle: %w", err)
	}
	if res.AffectedCount == 0 {
		return ErrNotFound
	}
	return nil
}
