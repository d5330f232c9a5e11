package store

import (
	"context"
	"fmt"

	"dashboard-core/pkg/db"
)

// maxRecentLogs bounds how many log lines a snapshot keeps.
const maxRecentLogs = 200

// SaveProcessStatus stores the latest control-surface response for an
// instance, replacing any previous snapshot.
func (s *Store) SaveProcessStatus(ctx context.Context, p ProcessStatus) error {
	if p.InstanceID == "" {
		return invalid("process status instance_id is required")
	}
	logs := p.RecentLogs
	if len(logs) > maxRecentLogs {
		logs = logs[len(logs)-maxRecentLogs:]
	}
	logsText, err := encodeStrings(logs)
	if err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}

	_, err = s.q.Execute(ctx, `
		INSERT INTO bot_process (instance_id, running, pid, recent_logs, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (instance_id) DO UPDATE SET
			running = excluded.running,
			pid = excluded.pid,
			recent_logs = excluded.recent_logs,
			updated_at = excluded.updated_at`,
		p.InstanceID, boolInt(p.Running), nullInt(p.PID), logsText, db.Timestamp(&p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save process status: %w", err)
	}
	return nil
}

// GetProcessStatus returns nil when no snapshot was ever saved.
func (s *Store) GetProcessStatus(ctx context.Context, instanceID string) (*ProcessStatus, error) {
	row, err := s.q.QueryOne(ctx, `
		SELECT instance_id, running, pid, recent_logs, updated_at
		FROM bot_process WHERE instance_id = ?`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("get process status: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	p := &ProcessStatus{
		InstanceID: row.String("instance_id"),
		Running:    row.Bool("running"),
		RecentLogs: s.decodeStrings(row.String("recent_logs"), "bot_process", "recent_logs", instanceID),
		UpdatedAt:  row.Time("updated_at"),
	}
	if !row.IsNull("pid") {
		pid := row.Int("pid")
		p.PID = &pid
	}
	return p, nil
}
