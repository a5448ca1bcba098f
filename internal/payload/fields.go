package payload

import "strconv"

// Fields is a decoded payload mapping with get-with-default accessors.
type Fields map[string]any

// String returns the string at key, or def when missing or not a string.
func (f Fields) String(key, def string) string {
	if s, ok := f[key].(string); ok {
		return s
	}
	return def
}

// Value returns the raw value at key, or def when missing or null.
func (f Fields) Value(key string, def any) any {
	v, ok := f[key]
	if !ok || v == nil {
		return def
	}
	return v
}

// Map returns the nested mapping at key, or an empty mapping.
func (f Fields) Map(key string) Fields {
	if m, ok := f[key].(map[string]any); ok {
		return Fields(m)
	}
	return Fields{}
}

// Float returns the number at key, or def. Numeric strings are accepted.
func (f Fields) Float(key string, def float64) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}
