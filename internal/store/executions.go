package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dashboard-core/pkg/db"
)

const executionColumns = `id, trade_id, order_id, exec_type, quantity, price, fee, pnl, executed_at`

func scanExecution(r db.Row) Execution {
	return Execution{
		ID:         r.String("id"),
		TradeID:    r.String("trade_id"),
		OrderID:    r.String("order_id"),
		ExecType:   r.String("exec_type"),
		Quantity:   r.Float("quantity"),
		Price:      r.Float("price"),
		Fee:        r.Float("fee"),
		PnL:        r.Float("pnl"),
		ExecutedAt: r.Time("executed_at"),
	}
}

// ListExecutionsByTrade returns fills in execution order.
func (s *Store) ListExecutionsByTrade(ctx context.Context, tradeID string) ([]Execution, error) {
	rows, err := s.q.QueryMany(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE trade_id = ?
		ORDER BY executed_at, id`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	out := make([]Execution, 0, len(rows))
	for _, r := range rows {
		out = append(out, scanExecution(r))
	}
	return out, nil
}

// CreateExecution records one fill against an existing trade.
func (s *Store) CreateExecution(ctx context.Context, e Execution) (*Execution, error) {
	if e.TradeID == "" {
		return nil, invalid("execution trade_id is required")
	}
	if e.Quantity < 0 || e.Price < 0 {
		return nil, invalid("execution quantity and price must be non-negative")
	}
	trade, err := s.GetTrade(ctx, e.TradeID)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, invalid("trade %s does not exist", e.TradeID)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OrderID == "" {
		e.OrderID = trade.OrderID
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = s.now()
	}

	_, err = s.q.Execute(ctx, `
		INSERT INTO executions (id, trade_id, order_id, exec_type, quantity, price, fee, pnl, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TradeID, nullString(e.OrderID), nullString(e.ExecType),
		e.Quantity, e.Price, e.Fee, e.PnL, db.Timestamp(&e.ExecutedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	e.ExecutedAt = e.ExecutedAt.UTC().Truncate(time.Millisecond)
	return &e, nil
}
