package legacy

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Normalize converts extended-JSON wrappers ({"$oid"}, {"$numberInt"},
// {"$numberLong"}, {"$numberDouble"}, {"$date"}) to native values. Everything
// else is returned unchanged, so Normalize(Normalize(v)) == Normalize(v).
func Normalize(v any) any {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return v
	}
	for key, inner := range m {
		switch key {
		case "$oid":
			if s, ok := inner.(string); ok {
				return s
			}
		case "$numberInt", "$numberLong":
			if n, ok := parseInt(inner); ok {
				return n
			}
		case "$numberDouble":
			if f, ok := parseFloat(inner); ok {
				return f
			}
		case "$date":
			if t, ok := parseDate(inner); ok {
				return t
			}
		}
	}
	return v
}

// String returns v as a string. Numbers are formatted without exponent so
// numeric legacy ids keep their original text.
func String(v any) (string, bool) {
	switch x := Normalize(v).(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case int:
		return strconv.Itoa(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	}
	return "", false
}

// Int returns v as an int, accepting wrapped, native and numeric-string forms.
// Fractional values are rejected.
func Int(v any) (int, bool) {
	switch x := Normalize(v).(type) {
	case int64:
		return int(x), true
	case int:
		return x, true
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return 0, false
		}
		return int(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n), true
		}
		if f, err := x.Float64(); err == nil && f == math.Trunc(f) {
			return int(f), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Time returns v as an absolute time. Date wrappers, time values, date
// strings and epoch milliseconds are accepted.
func Time(v any) (time.Time, bool) {
	switch x := Normalize(v).(type) {
	case time.Time:
		return x, !x.IsZero()
	case string:
		return parseDateString(x)
	case json.Number, int64, int, float64:
		if ms, ok := parseInt(x); ok {
			return time.UnixMilli(ms).UTC(), true
		}
	}
	return time.Time{}, false
}

// Bool reports v as a boolean. Only true and "true" are true.
func Bool(v any) bool {
	switch x := Normalize(v).(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(x))
		return b
	}
	return false
}

func parseInt(v any) (int64, bool) {
	switch x := v.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		f, err := x.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

func parseFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case float64:
		return x, true
	}
	return 0, false
}

func parseDate(v any) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		return parseDateString(x)
	case map[string]any:
		if raw, ok := x["$numberLong"]; ok {
			if ms, ok := parseInt(raw); ok {
				return time.UnixMilli(ms).UTC(), true
			}
		}
	default:
		if ms, ok := parseInt(x); ok {
			return time.UnixMilli(ms).UTC(), true
		}
	}
	return time.Time{}, false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDateString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
