package index

// Metadata narrowing helpers. The index stores metadata as an untyped map
// (it round-trips through JSONB), so every consumer narrows values through
// these accessors immediately after a read instead of type-asserting inline.

// MetaString returns the string value for key, or "" when absent or not a
// string.
func MetaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// MetaStrings returns the string-slice value for key. JSON decoding yields
// []any, so both []string and []any of strings are accepted; anything else
// returns nil.
func MetaStrings(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// MetaInt returns the integer value for key. JSON decoding yields float64
// for all numbers, so float64, int and int64 are accepted; anything else
// returns 0.
func MetaInt(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
