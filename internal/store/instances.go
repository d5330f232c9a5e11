package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"dashboard-core/pkg/db"
)

// Settings keys backed by the threshold columns. They are never kept in the
// settings blob: writes land in the columns, reads surface the column values.
const (
	SettingMinConfidence = "trading.min_confidence_threshold"
	SettingMinRiskReward = "trading.min_rr"
)

const instanceColumns = `id, name, prompt_name, prompt_version, symbols, timeframe,
	min_confidence, min_risk_reward, settings, is_active, created_at, updated_at`

func (s *Store) scanInstance(r db.Row) *Instance {
	id := r.String("id")
	minConfidence := r.FloatPtr("min_confidence")
	minRiskReward := r.FloatPtr("min_risk_reward")
	return &Instance{
		ID:            id,
		Name:          r.String("name"),
		PromptName:    r.String("prompt_name"),
		PromptVersion: r.String("prompt_version"),
		Symbols:       s.decodeStrings(r.String("symbols"), "instances", "symbols", id),
		Timeframe:     r.String("timeframe"),
		MinConfidence: minConfidence,
		MinRiskReward: minRiskReward,
		Settings: withThresholds(
			s.decodeObject(r.String("settings"), "instances", "settings", id),
			minConfidence, minRiskReward,
		),
		IsActive:      r.Bool("is_active"),
		CreatedAt:     r.Time("created_at"),
		UpdatedAt:     r.Time("updated_at"),
	}
}

// ListInstances returns instances newest first.
func (s *Store) ListInstances(ctx context.Context, activeOnly bool) ([]Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.q.QueryMany(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	out := make([]Instance, 0, len(rows))
	for _, r := range rows {
		out = append(out, *s.scanInstance(r))
	}
	return out, nil
}

// GetInstance returns nil when the id is unknown.
func (s *Store) GetInstance(ctx context.Context, id string) (*Instance, error) {
	row, err := s.q.QueryOne(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return s.scanInstance(row), nil
}

func validateThresholds(minConfidence, minRiskReward *float64) error {
	if minConfidence != nil && (*minConfidence < 0 || *minConfidence > 1) {
		return invalid("min_confidence %v outside [0,1]", *minConfidence)
	}
	if minRiskReward != nil && *minRiskReward < 0 {
		return invalid("min_risk_reward %v is negative", *minRiskReward)
	}
	return nil
}

// withThresholds overlays the threshold columns onto a decoded settings blob.
// Stale copies of the keys inside the blob are dropped.
func withThresholds(settings map[string]any, minConfidence, minRiskReward *float64) map[string]any {
	delete(settings, SettingMinConfidence)
	delete(settings, SettingMinRiskReward)
	if minConfidence != nil {
		settings[SettingMinConfidence] = *minConfidence
	}
	if minRiskReward != nil {
		settings[SettingMinRiskReward] = *minRiskReward
	}
	return settings
}

// splitThresholds pulls the threshold keys out of settings. rest is a copy;
// an absent key yields a nil threshold.
func splitThresholds(settings map[string]any) (rest map[string]any, minConfidence, minRiskReward *float64, err error) {
	rest = make(map[string]any, len(settings))
	for k, v := range settings {
		switch k {
		case SettingMinConfidence:
			minConfidence, err = thresholdValue(k, v)
		case SettingMinRiskReward:
			minRiskReward, err = thresholdValue(k, v)
		default:
			rest[k] = v
		}
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return rest, minConfidence, minRiskReward, nil
}

func thresholdValue(key string, v any) (*float64, error) {
	var f float64
	switch n := v.(type) {
	case nil:
		return nil, nil
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil, invalid("%s: %v is not a number", key, v)
		}
		f = parsed
	default:
		return nil, invalid("%s: %v is not a number", key, v)
	}
	return &f, nil
}

// CreateInstance inserts a new active instance. An empty ID gets a UUID.
func (s *Store) CreateInstance(ctx context.Context, in Instance) (*Instance, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, invalid("instance name is required")
	}
	rest, minConfidence, minRiskReward, err := splitThresholds(in.Settings)
	if err != nil {
		return nil, err
	}
	if in.MinConfidence == nil {
		in.MinConfidence = minConfidence
	}
	if in.MinRiskReward == nil {
		in.MinRiskReward = minRiskReward
	}
	if err := validateThresholds(in.MinConfidence, in.MinRiskReward); err != nil {
		return nil, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	symbols, err := encodeStrings(in.Symbols)
	if err != nil {
		return nil, err
	}
	settings, err := encodeObject(rest)
	if err != nil {
		return nil, err
	}

	now := s.now()
	_, err = s.q.Execute(ctx, `
		INSERT INTO instances (id, name, prompt_name, prompt_version, symbols, timeframe,
			min_confidence, min_risk_reward, settings, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		in.ID, in.Name, nullString(in.PromptName), nullString(in.PromptVersion), symbols,
		nullString(in.Timeframe), nullFloat(in.MinConfidence), nullFloat(in.MinRiskReward),
		settings, db.Timestamp(&now), db.Timestamp(&now),
	)
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	return s.GetInstance(ctx, in.ID)
}

// InstanceUpdate carries the metadata fields an update may touch. Nil fields
// are left alone.
type InstanceUpdate struct {
	Name          *string  `json:"name"`
	PromptName    *string  `json:"prompt_name"`
	PromptVersion *string  `json:"prompt_version"`
	Symbols       []string `json:"symbols"`
	Timeframe     *string  `json:"timeframe"`
	MinConfidence *float64 `json:"min_confidence"`
	MinRiskReward *float64 `json:"min_risk_reward"`
}

// UpdateInstance applies u and returns the refreshed row.
func (s *Store) UpdateInstance(ctx context.Context, id string, u InstanceUpdate) (*Instance, error) {
	if err := validateThresholds(u.MinConfidence, u.MinRiskReward); err != nil {
		return nil, err
	}

	var set setClause
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, invalid("instance name is required")
		}
		set.add("name", name)
	}
	if u.PromptName != nil {
		set.add("prompt_name", nullString(*u.PromptName))
	}
	if u.PromptVersion != nil {
		set.add("prompt_version", nullString(*u.PromptVersion))
	}
	if u.Symbols != nil {
		symbols, err := encodeStrings(u.Symbols)
		if err != nil {
			return nil, err
		}
		set.add("symbols", symbols)
	}
	if u.Timeframe != nil {
		set.add("timeframe", nullString(*u.Timeframe))
	}
	if u.MinConfidence != nil {
		set.add("min_confidence", *u.MinConfidence)
	}
	if u.MinRiskReward != nil {
		set.add("min_risk_reward", *u.MinRiskReward)
	}
	now := s.now()
	set.add("updated_at", db.Timestamp(&now))

	args := append(set.args, id)
	res, err := s.q.Execute(ctx, `UPDATE instances SET `+set.String()+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update instance: %w", err)
	}
	if res.AffectedCount == 0 {
		return nil, ErrNotFound
	}
	return s.GetInstance(ctx, id)
}

// DeactivateInstance flags an instance inactive. Instances are never deleted.
func (s *Store) DeactivateInstance(ctx context.Context, id string) error {
	now := s.now()
	res, err := s.q.Execute(ctx,
		`UPDATE instances SET is_active = 0, updated_at = ? WHERE id = ?`,
		db.Timestamp(&now), id,
	)
	if err != nil {
		return fmt.Errorf("deactivate instance: %w", err)
	}
	if res.AffectedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// InstanceSettings returns the parsed settings blob with the threshold keys
// filled from their columns, or nil for an unknown id.
func (s *Store) InstanceSettings(ctx context.Context, id string) (map[string]any, error) {
	row, err := s.q.QueryOne(ctx,
		`SELECT id, settings, min_confidence, min_risk_reward FROM instances WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get instance settings: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return withThresholds(
		s.decodeObject(row.String("settings"), "instances", "settings", id),
		row.FloatPtr("min_confidence"), row.FloatPtr("min_risk_reward"),
	), nil
}

// MergeSettings applies patch onto current: a nil value removes the key,
// anything else replaces it. current is not modified.
func MergeSettings(current, patch map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(patch))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// UpdateInstanceSettings merges patch into the stored settings. The merge is
// read-modify-write; concurrent writers resolve last-writer-wins. Applying the
// same patch twice leaves identical stored text. Threshold keys are written to
// their columns, and removing one restores the default.
func (s *Store) UpdateInstanceSettings(ctx context.Context, id string, patch map[string]any) (map[string]any, error) {
	current, err := s.InstanceSettings(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound
	}

	merged := MergeSettings(current, patch)
	if reflect.DeepEqual(merged, current) {
		return merged, nil
	}

	rest, minConfidence, minRiskReward, err := splitThresholds(merged)
	if err != nil {
		return nil, err
	}
	if err := validateThresholds(minConfidence, minRiskReward); err != nil {
		return nil, err
	}
	blob, err := encodeObject(rest)
	if err != nil {
		return nil, err
	}
	now := s.now()
	res, err := s.q.Execute(ctx, `
		UPDATE instances
		SET settings = ?, min_confidence = ?, min_risk_reward = ?, updated_at = ?
		WHERE id = ?`,
		blob, nullFloat(minConfidence), nullFloat(minRiskReward), db.Timestamp(&now), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update instance settings: %w", err)
	}
	if res.AffectedCount == 0 {
		return nil, ErrNotFound
	}
	return merged, nil
}
