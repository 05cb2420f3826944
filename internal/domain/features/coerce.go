package features

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Float interprets v as a finite number. Numeric strings and booleans are accepted.
func Float(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// numeric reports whether v is stored as a number, the test used when learning medians.
func numeric(v any) (float64, bool) {
	switch v.(type) {
	case float64, float32, int, int32, int64, uint32, uint64, json.Number:
		return Float(v)
	default:
		return 0, false
	}
}
