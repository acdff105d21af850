package bridge

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Props is a raw native property bag. Keys are flat (dotted names such
// as "object.id" are single keys); nested objects appear as map values.
//
// Every accessor is independently fallible. Values may arrive as JSON
// numbers, json.Number, or strings, since native servers disagree on
// how they encode numeric properties.
type Props map[string]any

func (p Props) String(key string) (string, bool) {
	switch v := p[key].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	}
	return "", false
}

// StringOr returns the string at key, or def when absent or not a string.
func (p Props) StringOr(key, def string) string {
	if s, ok := p.String(key); ok {
		return s
	}
	return def
}

func (p Props) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func (p Props) Int(key string) (int, bool) {
	f, ok := p.Float(key)
	if !ok || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func (p Props) Uint32(key string) (uint32, bool) {
	f, ok := p.Float(key)
	if !ok || f != math.Trunc(f) || f < 0 || f > math.MaxUint32 {
		return 0, false
	}
	return uint32(f), true
}

// Bool accepts JSON booleans, "true"/"false", "yes"/"no", and the
// numbers 0 and 1.
func (p Props) Bool(key string) (bool, bool) {
	switch v := p[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
		return false, false
	}
	if f, ok := p.Float(key); ok && (f == 0 || f == 1) {
		return f == 1, true
	}
	return false, false
}

// Sub returns the nested object at key.
func (p Props) Sub(key string) (Props, bool) {
	switch v := p[key].(type) {
	case map[string]any:
		return Props(v), true
	case Props:
		return v, true
	}
	return nil, false
}

func (p Props) List(key string) ([]any, bool) {
	v, ok := p[key].([]any)
	return v, ok
}

// Has reports whether key is present, even with a null value.
func (p Props) Has(key string) bool {
	_, ok := p[key]
	return ok
}
