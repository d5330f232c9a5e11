package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Pinger is satisfied by *db.Database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor pings the database on an interval and raises alerts when it stops
// answering or when the connection pool keeps getting reset.
type Monitor struct {
	DB       Pinger
	Metrics  *SystemMetrics
	Sink     AlertSink
	Interval time.Duration
	Log      *zap.Logger

	failing    bool
	lastResets uint64
}

func (m *Monitor) Start(ctx context.Context) {
	if m.DB == nil || m.Sink == nil {
		if m.Log != nil {
			m.Log.Info("monitor not fully configured; skipping")
		}
		return
	}
	interval := m.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// Check runs one probe. Alerts fire on state changes, not on every tick.
func (m *Monitor) Check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := m.DB.Ping(pingCtx)
	cancel()

	switch {
	case err != nil && !m.failing:
		m.failing = true
		m.send(formatAlert(fmt.Sprintf("database unreachable: %v", err)))
	case err == nil && m.failing:
		m.failing = false
		m.send(formatAlert("database reachable again"))
	}

	if m.Metrics == nil {
		return
	}
	resets := m.Metrics.GetSnapshot().PoolResets
	if resets > m.lastResets {
		m.send(formatAlert(fmt.Sprintf("connection pool reset %d time(s) since last check", resets-m.lastResets)))
	}
	m.lastResets = resets
}

func (m *Monitor) send(msg string) {
	if err := m.Sink.Send(msg); err != nil && m.Log != nil {
		m.Log.Warn("alert delivery failed", zap.Error(err))
	}
}

func formatAlert(msg string) string {
	return "[" + time.Now().Format(time.RFC3339) + "] " + msg
}
