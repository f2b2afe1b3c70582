package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Args are decoded tool arguments. Accessors assume Validate has run,
// so they return zero values rather than errors for absent keys.
type Args map[string]any

// String returns the string at key, or "".
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Int returns the integer at key. JSON numbers decode as float64; a
// numeric string is also accepted since models sometimes quote ids.
func (a Args) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// RequireInt returns the integer at key or an error naming it.
func (a Args) RequireInt(key string) (int, error) {
	n, ok := a.Int(key)
	if !ok {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// Bool returns the boolean at key, or def when absent.
func (a Args) Bool(key string, def bool) bool {
	if b, ok := a[key].(bool); ok {
		return b
	}
	return def
}

// Ints returns the integers in the array at key.
func (a Args) Ints(key string) []int {
	raw, _ := a[key].([]any)
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}

// Strings returns the strings in the array at key.
func (a Args) Strings(key string) []string {
	raw, _ := a[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Decode converts the value at key into v by a JSON round trip. It is
// meant for arrays of objects, which have no typed accessor.
func (a Args) Decode(key string, v any) error {
	raw, ok := a[key]
	if !ok {
		return fmt.Errorf("%s is required", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s has the wrong shape: %w", key, err)
	}
	return nil
}
