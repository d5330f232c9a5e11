package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"dashboard-core/pkg/db"
)

const tradeColumns = `t.id, t.recommendation_id, t.run_id, t.cycle_id, t.symbol, t.side,
	t.quantity, t.entry_price, t.exit_price, t.stop_loss, t.take_profit, t.order_id, t.status,
	t.pnl, t.pnl_percent, t.dry_run, t.rejection_reason, t.submitted_at, t.filled_at,
	t.closed_at, t.created_at`

// TradeFilter narrows ListTrades. A nil DryRun matches both live and
// simulated trades. Limit <= 0 means all.
type TradeFilter struct {
	InstanceID string
	RunID      string
	CycleID    string
	Status     string
	DryRun     *bool
	Limit      int
}

func validTradeStatus(status string) bool {
	switch status {
	case TradeSubmitted, TradePendingFill, TradeFilled, TradeClosed,
		TradeRejected, TradeCancelled, TradeError, TradePaper:
		return true
	}
	return false
}

func scanTrade(r db.Row) *Trade {
	return &Trade{
		ID:               r.String("id"),
		RecommendationID: r.String("recommendation_id"),
		RunID:            r.String("run_id"),
		CycleID:          r.String("cycle_id"),
		Symbol:           r.String("symbol"),
		Side:             r.String("side"),
		Quantity:         r.Float("quantity"),
		EntryPrice:       r.FloatPtr("entry_price"),
		ExitPrice:        r.FloatPtr("exit_price"),
		StopLoss:         r.FloatPtr("stop_loss"),
		TakeProfit:       r.FloatPtr("take_profit"),
		OrderID:          r.String("order_id"),
		Status:           r.String("status"),
		PnL:              r.FloatPtr("pnl"),
		PnLPercent:       r.FloatPtr("pnl_percent"),
		DryRun:           r.Bool("dry_run"),
		RejectionReason:  r.String("rejection_reason"),
		SubmittedAt:      r.TimePtr("submitted_at"),
		FilledAt:         r.TimePtr("filled_at"),
		ClosedAt:         r.TimePtr("closed_at"),
		CreatedAt:        r.Time("created_at"),
	}
}

func scanTrades(rows []db.Row) []Trade {
	out := make([]Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, *scanTrade(r))
	}
	return out
}

// ListTradesByRecommendation returns the trades a recommendation produced.
func (s *Store) ListTradesByRecommendation(ctx context.Context, recommendationID string) ([]Trade, error) {
	rows, err := s.q.QueryMany(ctx, `
		SELECT `+tradeColumns+` FROM trades t
		WHERE t.recommendation_id = ?
		ORDER BY t.created_at, t.id`, recommendationID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return scanTrades(rows), nil
}

// ListTrades returns trades newest first. Scope filters walk the hierarchy
// rather than trusting the denormalized ids.
func (s *Store) ListTrades(ctx context.Context, f TradeFilter) ([]Trade, error) {
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
	if f.Status != "" {
		where = append(where, "t.status = ?")
		args = append(args, f.Status)
	}
	if f.DryRun != nil {
		where = append(where, "CASE WHEN t.dry_run THEN 1 ELSE 0 END = ?")
		args = append(args, boolInt(*f.DryRun))
	}

	query := `SELECT ` + tradeColumns + `
		FROM trades t
		JOIN recommendations rec ON rec.id = t.recommendation_id
		JOIN cycles c ON c.id = rec.cycle_id
		JOIN runs r ON r.id = c.run_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY t.created_at DESC, t.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.q.QueryMany(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return scanTrades(rows), nil
}

// GetTrade returns nil when the id is unknown.
func (s *Store) GetTrade(ctx context.Context, id string) (*Trade, error) {
	row, err := s.q.QueryOne(ctx, `SELECT `+tradeColumns+` FROM trades t WHERE t.id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get trade: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return scanTrade(row), nil
}

// CreateTrade records a trade for a recommendation. The run and cycle ids are
// derived from the recommendation; caller-supplied ids must agree with them.
func (s *Store) CreateTrade(ctx context.Context, t Trade) (*Trade, error) {
	if t.RecommendationID == "" {
		return nil, invalid("trade recommendation_id is required")
	}
	if t.Status == "" {
		t.Status = TradeSubmitted
	}
	if !validTradeStatus(t.Status) {
		return nil, invalid("unknown trade status %q", t.Status)
	}
	t.RejectionReason = strings.TrimSpace(t.RejectionReason)
	if t.Status == TradeRejected && t.RejectionReason == "" {
		return nil, invalid("rejected trade requires a rejection reason")
	}
	if t.Quantity < 0 {
		return nil, invalid("quantity %v is negative", t.Quantity)
	}

	rec, err := s.GetRecommendation(ctx, t.RecommendationID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, invalid("recommendation %s does not exist", t.RecommendationID)
	}
	cycle, err := s.GetCycle(ctx, rec.CycleID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, invalid("recommendation %s has no cycle", rec.ID)
	}
	if t.CycleID != "" && t.CycleID != cycle.ID {
		return nil, invalid("cycle_id %s disagrees with recommendation cycle %s", t.CycleID, cycle.ID)
	}
	if t.RunID != "" && t.RunID != cycle.RunID {
		return nil, invalid("run_id %s disagrees with recommendation run %s", t.RunID, cycle.RunID)
	}
	t.CycleID, t.RunID = cycle.ID, cycle.RunID

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Symbol == "" {
		t.Symbol = rec.Symbol
	}
	if t.Side == "" {
		t.Side = rec.Action
	}
	if t.EntryPrice == nil {
		t.EntryPrice = rec.EntryPrice
	}
	if t.StopLoss == nil {
		t.StopLoss = rec.StopLoss
	}
	if t.TakeProfit == nil {
		t.TakeProfit = rec.TakeProfit
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}

	_, err = s.q.Execute(ctx, `
		INSERT INTO trades (id, recommendation_id, run_id, cycle_id, symbol, side, quantity,
			entry_price, exit_price, stop_loss, take_profit, order_id, status, pnl, pnl_percent,
			dry_run, rejection_reason, submitted_at, filled_at, closed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RecommendationID, t.RunID, t.CycleID, t.Symbol, t.Side, t.Quantity,
		nullFloat(t.EntryPrice), nullFloat(t.ExitPrice), nullFloat(t.StopLoss), nullFloat(t.TakeProfit),
		nullString(t.OrderID), t.Status, nullFloat(t.PnL), nullFloat(t.PnLPercent),
		t.DryRun, nullString(t.RejectionReason), db.Timestamp(t.SubmittedAt), db.Timestamp(t.FilledAt),
		db.Timestamp(t.ClosedAt), db.Timestamp(&t.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create trade: %w", err)
	}
	return s.GetTrade(ctx, t.ID)
}

// UpdateTradeStatus transitions a trade. Moving to rejected requires a reason;
// moving to filled stamps filled_at once.
func (s *Store) UpdateTradeStatus(ctx context.Context, id, status, reason string) error {
	if !validTradeStatus(status) {
		return invalid("unknown trade status %q", status)
	}
	reason = strings.TrimSpace(reason)
	if status == TradeRejected && reason == "" {
		return invalid("rejected trade requires a rejection reason")
	}

	now := db.Timestamp(ptrTime(s.now()))
	var filledAt any
	if status == TradeFilled {
		filledAt = now
	}
	res, err := s.q.Execute(ctx, `
		UPDATE trades SET
			status = ?,
			rejection_reason = COALESCE(?, rejection_reason),
			filled_at = COALESCE(filled_at, ?)
		WHERE id = ?`,
		status, nullString(reason), filledAt, id,
	)
	if err != nil {
		return fmt.Errorf("update trade status: %w", err)
	}
	if res.AffectedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseTrade records the exit of a trade and its realized pnl.
func (s *Store) CloseTrade(ctx context.Context, id string, exitPrice, pnl, pnlPercent float64) error {
	now := s.now()
	res, err := s.q.Execute(ctx, `
		UPDATE trades SET status = ?, exit_price = ?, pnl = ?, pnl_percent = ?, closed_at = ?
		WHERE id = ?`,
		TradeClosed, exitPrice, pnl, pnlPercent, db.Timestamp(&now), id,
	)
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}
	if res.AffectedCount == 0 {
		return ErrNotFound
	}
	return nil
}
