package store

// Helpers for reading normalized trees without panicking on unexpected shapes.

// Object returns v as an object.
func Object(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// Child returns the field key of object v.
func Child(v any, key string) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	c, ok := m[key]
	return c, ok
}

// Number reads a numeric field.
func Number(v any, key string) (float64, bool) {
	c, ok := Child(v, key)
	if !ok {
		return 0, false
	}
	switch n := c.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// String reads a string field.
func String(v any, key string) (string, bool) {
	c, ok := Child(v, key)
	if !ok {
		return "", false
	}
	s, ok := c.(string)
	return s, ok
}

// Bool reads a boolean field.
func Bool(v any, key string) (bool, bool) {
	c, ok := Child(v, key)
	if !ok {
		return false, false
	}
	b, ok := c.(bool)
	return b, ok
}
