package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"dashboard-core/pkg/db"
)

const runColumns = `id, instance_id, status, started_at, ended_at, stop_reason, timeframe,
	symbols, config_snapshot, pid`

// RunFilter narrows ListRuns. Zero values mean no filter; Limit <= 0 means all.
type RunFilter struct {
	InstanceID string
	Status     string
	Limit      int
}

func validRunStatus(status string) bool {
	switch status {
	case RunRunning, RunStopped, RunCrashed, RunCompleted:
		return true
	}
	return false
}

func (s *Store) scanRun(r db.Row) *Run {
	id := r.String("id")
	run := &Run{
		ID:             id,
		InstanceID:     r.String("instance_id"),
		Status:         r.String("status"),
		StartedAt:      r.Time("started_at"),
		EndedAt:        r.TimePtr("ended_at"),
		StopReason:     r.String("stop_reason"),
		Timeframe:      r.String("timeframe"),
		Symbols:        s.decodeStrings(r.String("symbols"), "runs", "symbols", id),
		ConfigSnapshot: s.decodeObject(r.String("config_snapshot"), "runs", "config_snapshot", id),
	}
	if !r.IsNull("pid") {
		pid := r.Int("pid")
		run.PID = &pid
	}
	return run
}

func (s *Store) scanRuns(rows []db.Row) []Run {
	out := make([]Run, 0, len(rows))
	for _, r := range rows {
		out = append(out, *s.scanRun(r))
	}
	return out
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if f.InstanceID != "" {
		where = append(where, "instance_id = ?")
		args = append(args, f.InstanceID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.q.QueryMany(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return s.scanRuns(rows), nil
}

// GetRun returns nil when the id is unknown.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row, err := s.q.QueryOne(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return s.scanRun(row), nil
}

// GetRunningRun returns the latest run still marked running for an instance.
func (s *Store) GetRunningRun(ctx context.Context, instanceID string) (*Run, error) {
	row, err := s.q.QueryOne(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE instance_id = ? AND status = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1`, instanceID, RunRunning)
	if err != nil {
		return nil, fmt.Errorf("get running run: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return s.scanRun(row), nil
}

// CreateRun records a new run for an existing instance.
func (s *Store) CreateRun(ctx context.Context, run Run) (*Run, error) {
	if run.InstanceID == "" {
		return nil, invalid("run instance_id is required")
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	if !validRunStatus(run.Status) {
		return nil, invalid("unknown run status %q", run.Status)
	}
	inst, err := s.GetInstance(ctx, run.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, invalid("instance %s does not exist", run.InstanceID)
	}

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	if run.Timeframe == "" {
		run.Timeframe = inst.Timeframe
	}
	if run.Symbols == nil {
		run.Symbols = inst.Symbols
	}
	symbols, err := encodeStrings(run.Symbols)
	if err != nil {
		return nil, err
	}
	snapshot := run.ConfigSnapshot
	if snapshot == nil {
		snapshot = inst.Settings
	}
	snapshotText, err := encodeObject(snapshot)
	if err != nil {
		return nil, err
	}

	_, err = s.q.Execute(ctx, `
		INSERT INTO runs (id, instance_id, status, started_at, ended_at, stop_reason,
			timeframe, symbols, config_snapshot, pid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.InstanceID, run.Status, db.Timestamp(&run.StartedAt), db.Timestamp(run.EndedAt),
		nullString(run.StopReason), nullString(run.Timeframe), symbols, snapshotText, nullInt(run.PID),
	)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return s.GetRun(ctx, run.ID)
}

// UpdateRunStatus moves a run to status. Any status other than running stamps
// ended_at; moving back to running clears it.
func (s *Store) UpdateRunStatus(ctx context.Context, id, status, stopReason string) error {
	if !validRunStatus(status) {
		return invalid("unknown run status %q", status)
	}

	var endedAt any
	if status != RunRunning {
		now := s.now()
		endedAt = db.Timestamp(&now)
	}
	res, err := s.q.Execute(ctx,
		`UPDATE runs SET status = ?, ended_at = ?, stop_reason = ? WHERE id = ?`,
		status, endedAt, nullString(stopReason), id,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if res.AffectedCount == 0 {
		return ErrNotFound
	}
	return nil
}
