package db

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Row is one normalized result row keyed by column name. Values are limited
// to nil, int64, float64, string and bool after normalization.
type Row map[string]any

// IsNull reports whether the column is absent or NULL.
func (r Row) IsNull(key string) bool {
	v, ok := r[key]
	return !ok || v == nil
}

// String returns the column as text; NULL becomes "".
func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return FormatTimestamp(v)
	default:
		return fmt.Sprint(v)
	}
}

// StringPtr returns nil for NULL.
func (r Row) StringPtr(key string) *string {
	if r.IsNull(key) {
		return nil
	}
	s := r.String(key)
	return &s
}

// Int returns the column as an integer; NULL and unparsable text become 0.
func (r Row) Int(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return n
	}
	return 0
}

// Float returns the column as a float; NULL becomes 0.
func (r Row) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// FloatPtr returns nil for NULL.
func (r Row) FloatPtr(key string) *float64 {
	if r.IsNull(key) {
		return nil
	}
	f := r.Float(key)
	return &f
}

// Bool accepts the integer 0/1 form used by both backends after normalization.
func (r Row) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return r.Int(key) != 0
		}
		return b
	}
	return false
}

// Time parses an ISO-8601 timestamp column; NULL or garbage yields the zero time.
func (r Row) Time(key string) time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return v.UTC()
	case string:
		t, err := ParseTimestamp(v)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	return time.Time{}
}

// TimePtr returns nil for NULL or unparsable values.
func (r Row) TimePtr(key string) *time.Time {
	t := r.Time(key)
	if t.IsZero() {
		return nil
	}
	return &t
}

// TimestampLayout is the canonical text form for timestamps on both backends.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Timestamp is the write-side helper: nil stays NULL.
func Timestamp(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return FormatTimestamp(*t)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp accepts the canonical layout plus the forms SQLite's own
// date functions produce.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
