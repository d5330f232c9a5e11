package db

import (
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// booleanFields are stored as native BOOLEAN on PostgreSQL and as INTEGER 0/1
// on SQLite. Rows always expose the integer form.
var booleanFields = []string{"dry_run"}

// timestampFields are native TIMESTAMPTZ on PostgreSQL and ISO text on SQLite.
// Rows always expose the ISO text form.
var timestampFields = []string{
	"created_at",
	"updated_at",
	"started_at",
	"ended_at",
	"completed_at",
	"submitted_at",
	"filled_at",
	"closed_at",
	"executed_at",
	"last_trade_at",
}

// RewritePlaceholders turns '?' placeholders into PostgreSQL's $1..$N, in
// source order. Every '?' is rewritten, including one inside a quoted string
// literal; queries in this module never carry such literals.
func RewritePlaceholders(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// NormalizeRow coerces backend-specific representations of the known boolean
// and timestamp fields in place and returns the row.
func NormalizeRow(row Row) Row {
	for _, key := range booleanFields {
		if v, ok := row[key].(bool); ok {
			if v {
				row[key] = int64(1)
			} else {
				row[key] = int64(0)
			}
		}
	}
	for _, key := range timestampFields {
		if v, ok := row[key].(time.Time); ok {
			row[key] = FormatTimestamp(v)
		}
	}
	return row
}

// coerceValue narrows pgx's decoded values to the small set of Go types Row
// accessors understand.
func coerceValue(v any) any {
	switch x := v.(type) {
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	}
	return v
}

// sqliteValue maps database/sql scan output to Row values.
func sqliteValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return FormatTimestamp(x)
	}
	return v
}
