package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// CoerceTTL turns loosely typed user input into a TTL in seconds.
// Missing, zero, non-numeric and non-finite input falls back to
// DefaultTTLSeconds; everything else is truncated and clamped.
func CoerceTTL(input any) int {
	f, ok := toFloat(input)
	if !ok || f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultTTLSeconds
	}
	if f > MaxTTLSeconds {
		return MaxTTLSeconds
	}
	if f < MinTTLSeconds {
		return MinTTLSeconds
	}
	return ClampTTL(int(f))
}

func toFloat(input any) (float64, bool) {
	switch v := input.(type) {
	case nil:
		return 0, false
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
