// Package store holds the typed repositories over the query facade. Every
// method is a thin SQL template; none of them know which backend is active.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"dashboard-core/pkg/db"
)

var (
	// ErrNotFound is returned by updates that target a missing row. Reads
	// report a missing row as nil, nil.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the repository set for one database.
type Store struct {
	q   db.Querier
	log *zap.Logger
	now func() time.Time
}

// New returns a Store over q. A nil logger discards warnings.
func New(q db.Querier, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		q:   q,
		log: logger,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Querier exposes the underlying facade for callers that need raw access.
func (s *Store) Querier() db.Querier {
	return s.q
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// decodeObject parses a JSON object blob. Malformed or non-object content
// degrades to an empty map so one bad row never breaks a listing.
func (s *Store) decodeObject(raw, table, column, id string) map[string]any {
	out := map[string]any{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		s.log.Warn("malformed json blob",
			zap.String("table", table),
			zap.String("column", column),
			zap.String("id", id),
			zap.Error(err),
		)
		return map[string]any{}
	}
	return out
}

// decodeStrings parses a JSON string array, degrading to an empty slice.
func (s *Store) decodeStrings(raw, table, column, id string) []string {
	out := []string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		s.log.Warn("malformed json blob",
			zap.String("table", table),
			zap.String("column", column),
			zap.String("id", id),
			zap.Error(err),
		)
		return []string{}
	}
	return out
}

// encodeJSON marshals v; map keys come out sorted so equal content always
// produces equal text.
func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

func encodeStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	return encodeJSON(v)
}

func encodeObject(v map[string]any) (string, error) {
	if v == nil {
		v = map[string]any{}
	}
	return encodeJSON(v)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullInt(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// setClause accumulates "col = ?" fragments for partial updates.
type setClause struct {
	cols []string
	args []any
}

func (c *setClause) add(col string, v any) {
	c.cols = append(c.cols, col+" = ?")
	c.args = append(c.args, v)
}

func (c *setClause) empty() bool { return len(c.cols) == 0 }

func (c *setClause) String() string { return strings.Join(c.cols, ", ") }

func ptrTime(t time.Time) *time.Time { return &t }
