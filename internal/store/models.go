package store

import "time"

// Run statuses.
const (
	RunRunning   = "running"
	RunStopped   = "stopped"
	RunCrashed   = "crashed"
	RunCompleted = "completed"
)

// Trade statuses.
const (
	TradeSubmitted   = "submitted"
	TradePendingFill = "pending_fill"
	TradeFilled      = "filled"
	TradeClosed      = "closed"
	TradeRejected    = "rejected"
	TradeCancelled   = "cancelled"
	TradeError       = "error"
	TradePaper       = "paper_trade"
)

// Default actionable thresholds when an instance leaves them unset.
const (
	DefaultMinConfidence = 0.6
	DefaultMinRiskReward = 1.5
)

// Instance is one configured bot identity.
type Instance struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	PromptName    string         `json:"prompt_name,omitempty"`
	PromptVersion string         `json:"prompt_version,omitempty"`
	Symbols       []string       `json:"symbols"`
	Timeframe     string         `json:"timeframe,omitempty"`
	MinConfidence *float64       `json:"min_confidence,omitempty"`
	MinRiskReward *float64       `json:"min_risk_reward,omitempty"`
	Settings      map[string]any `json:"settings"`
	IsActive      bool           `json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Thresholds returns the effective actionable thresholds.
func (i Instance) Thresholds() (minConfidence, minRiskReward float64) {
	minConfidence, minRiskReward = DefaultMinConfidence, DefaultMinRiskReward
	if i.MinConfidence != nil {
		minConfidence = *i.MinConfidence
	}
	if i.MinRiskReward != nil {
		minRiskReward = *i.MinRiskReward
	}
	return
}

// Run is one start-to-stop session of an instance.
type Run struct {
	ID             string         `json:"id"`
	InstanceID     string         `json:"instance_id"`
	Status         string         `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	StopReason     string         `json:"stop_reason,omitempty"`
	Timeframe      string         `json:"timeframe,omitempty"`
	Symbols        []string       `json:"symbols"`
	ConfigSnapshot map[string]any `json:"config_snapshot"`
	PID            *int64         `json:"pid,omitempty"`
}

// Cycle is one iteration of the trading loop.
type Cycle struct {
	ID                       string     `json:"id"`
	RunID                    string     `json:"run_id"`
	CycleNumber              int64      `json:"cycle_number"`
	Timeframe                string     `json:"timeframe,omitempty"`
	Status                   string     `json:"status"`
	StartedAt                time.Time  `json:"started_at"`
	CompletedAt              *time.Time `json:"completed_at,omitempty"`
	ChartsCaptured           int64      `json:"charts_captured"`
	AnalysesCompleted        int64      `json:"analyses_completed"`
	RecommendationsGenerated int64      `json:"recommendations_generated"`
	TradesExecuted           int64      `json:"trades_executed"`
	ErrorMessage             string     `json:"error_message,omitempty"`
}

// Recommendation is one generated trading signal.
type Recommendation struct {
	ID            string    `json:"id"`
	CycleID       string    `json:"cycle_id"`
	Symbol        string    `json:"symbol"`
	Timeframe     string    `json:"timeframe,omitempty"`
	Action        string    `json:"action"`
	Confidence    float64   `json:"confidence"`
	EntryPrice    *float64  `json:"entry_price,omitempty"`
	StopLoss      *float64  `json:"stop_loss,omitempty"`
	TakeProfit    *float64  `json:"take_profit,omitempty"`
	RiskReward    *float64  `json:"risk_reward,omitempty"`
	Reasoning     string    `json:"reasoning,omitempty"`
	ChartPath     string    `json:"chart_path,omitempty"`
	ModelName     string    `json:"model_name,omitempty"`
	PromptName    string    `json:"prompt_name,omitempty"`
	PromptVersion string    `json:"prompt_version,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Trade is one order lifecycle derived from a recommendation.
type Trade struct {
	ID               string     `json:"id"`
	RecommendationID string     `json:"recommendation_id"`
	RunID            string     `json:"run_id"`
	CycleID          string     `json:"cycle_id"`
	Symbol           string     `json:"symbol"`
	Side             string     `json:"side"`
	Quantity         float64    `json:"quantity"`
	EntryPrice       *float64   `json:"entry_price,omitempty"`
	ExitPrice        *float64   `json:"exit_price,omitempty"`
	StopLoss         *float64   `json:"stop_loss,omitempty"`
	TakeProfit       *float64   `json:"take_profit,omitempty"`
	OrderID          string     `json:"order_id,omitempty"`
	Status           string     `json:"status"`
	PnL              *float64   `json:"pnl,omitempty"`
	PnLPercent       *float64   `json:"pnl_percent,omitempty"`
	DryRun           bool       `json:"dry_run"`
	RejectionReason  string     `json:"rejection_reason,omitempty"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	FilledAt         *time.Time `json:"filled_at,omitempty"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Executed reports whether the trade counts toward executed aggregates.
func (t Trade) Executed() bool {
	return IsExecutedStatus(t.Status)
}

// IsExecutedStatus is false for terminal non-execution statuses.
func IsExecutedStatus(status string) bool {
	switch status {
	case TradeRejected, TradeCancelled, TradeError:
		return false
	}
	return true
}

// Execution is one fill against a trade's order.
type Execution struct {
	ID         string    `json:"id"`
	TradeID    string    `json:"trade_id"`
	OrderID    string    `json:"order_id,omitempty"`
	ExecType   string    `json:"exec_type,omitempty"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Fee        float64   `json:"fee"`
	PnL        float64   `json:"pnl"`
	ExecutedAt time.Time `json:"executed_at"`
}

// ProcessStatus is the last control-surface response recorded for an instance.
type ProcessStatus struct {
	InstanceID string    `json:"instance_id"`
	Running    bool      `json:"running"`
	PID        *int64    `json:"pid,omitempty"`
	RecentLogs []string  `json:"recent_logs"`
	UpdatedAt  time.Time `json:"updated_at"`
}
