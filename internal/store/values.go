package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Column readers for map rows. Postgres hands back native types while
// SQLite stores booleans as integers and timestamps as text, so every read
// of a typed column goes through one of these.

// AsString returns v as a string, or "" for NULL.
func AsString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// AsBool reads a BOOLEAN column.
func AsBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case int64:
		return val != 0
	case int:
		return val != 0
	case float64:
		return val != 0
	case string:
		b, _ := strconv.ParseBool(val)
		return b
	default:
		return false
	}
}

// AsInt reads an INTEGER column.
func AsInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int32:
		return int64(val)
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	default:
		return 0
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// AsTime reads a timestamp column. ok is false for NULL or unparseable text.
func AsTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), true
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// AsDecimal reads a NUMERIC column. ok is false for NULL.
func AsDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case nil:
		return decimal.Decimal{}, false
	case decimal.Decimal:
		return val, true
	case int64:
		return decimal.NewFromInt(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case float64:
		return decimal.NewFromFloat(val), true
	case string:
		d, err := decimal.NewFromString(val)
		return d, err == nil
	case []byte:
		d, err := decimal.NewFromString(string(val))
		return d, err == nil
	default:
		d, err := decimal.NewFromString(fmt.Sprintf("%v", val))
		return d, err == nil
	}
}

// NullString maps "" to NULL for optional reference columns.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
