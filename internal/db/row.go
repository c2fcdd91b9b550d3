package db

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Row is one materialized result row keyed by column name. The accessors
// normalize driver-specific value types so both backends produce the same shape.
type Row map[string]any

var timeLayouts = []string{
	SQLiteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// String returns the column as text; NULL and missing columns give "".
func (r Row) String(col string) string {
	s, _ := toString(r[col])
	return s
}

// StringPtr returns nil for NULL.
func (r Row) StringPtr(col string) *string {
	s, ok := toString(r[col])
	if !ok {
		return nil
	}
	return &s
}

func toString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		return string(t), true
	case [16]byte:
		return uuid.UUID(t).String(), true
	case uuid.UUID:
		return t.String(), true
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}

func (r Row) Int(col string) int64 {
	switch t := r[col].(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case int16:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(t), 10, 64)
		return n
	default:
		return 0
	}
}

func (r Row) Bool(col string) bool {
	switch t := r[col].(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}

// Time parses TEXT timestamps from the embedded engine and passes native
// timestamps through. Unparseable or NULL values give the zero time.
func (r Row) Time(col string) time.Time {
	t, _ := toTime(r[col])
	return t
}

func (r Row) TimePtr(col string) *time.Time {
	t, ok := toTime(r[col])
	if !ok {
		return nil
	}
	return &t
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	default:
		return time.Time{}, false
	}
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Date returns a calendar date column as YYYY-MM-DD, or nil for NULL.
func (r Row) Date(col string) *string {
	switch t := r[col].(type) {
	case time.Time:
		s := t.Format("2006-01-02")
		return &s
	case string, []byte:
		s, _ := toString(t)
		if s == "" {
			return nil
		}
		if len(s) > 10 {
			s = s[:10]
		}
		return &s
	default:
		return nil
	}
}
