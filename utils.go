package foundrydata

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// asMap returns v as a JSON object, or nil when it is not one.
func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// asSlice returns v as a JSON array, or nil when it is not one.
func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// getString returns the string at key, or "" when absent or mistyped.
func getString(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// getBool returns the boolean at key and whether it was present.
func getBool(obj map[string]any, key string) (bool, bool) {
	b, ok := obj[key].(bool)
	return b, ok
}

// getNumber returns the number at key as float64 and whether it was present.
func getNumber(obj map[string]any, key string) (float64, bool) {
	switch n := obj[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// getInt returns the number at key as an int and whether it was present and
// integral. Negative values are returned as they are.
func getInt(obj map[string]any, key string) (int, bool) {
	f, ok := getNumber(obj, key)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// getStrings returns the string array at key, or nil.
func getStrings(obj map[string]any, key string) []string {
	raw := asSlice(obj[key])
	if raw == nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil
		}
		out = append(out, s)
	}
	return out
}

// deepCopyValue clones a decoded JSON value.
func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, nested := range t {
			out[k] = deepCopyValue(nested)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, nested := range t {
			out[i] = deepCopyValue(nested)
		}
		return out
	default:
		return t
	}
}

// canonicalJSON marshals a value with object keys sorted, giving a stable
// byte form suitable for hashing and equality.
func canonicalJSON(v any) []byte {
	var sb strings.Builder
	writeCanonical(&sb, v)
	return []byte(sb.String())
}

func writeCanonical(sb *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			sb.Write(kb)
			sb.WriteByte(':')
			writeCanonical(sb, t[k])
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, e)
		}
		sb.WriteByte(']')
	default:
		b, err := json.Marshal(t)
		if err != nil {
			sb.WriteString("null")
			return
		}
		sb.Write(b)
	}
}

// jsonEqual compares two decoded JSON values structurally.
func jsonEqual(a, b any) bool {
	return string(canonicalJSON(a)) == string(canonicalJSON(b))
}

// codePointLength measures a string in Unicode code points, the unit all
// string length constraints use.
func codePointLength(s string) int {
	return utf8.RuneCountInString(s)
}

// sortedKeys returns the keys of a JSON object in sorted order.
func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// isAbsoluteID reports whether an $id value establishes an absolute scope.
func isAbsoluteID(id string) bool {
	if id == "" {
		return false
	}
	i := strings.Index(id, ":")
	if i <= 0 {
		return false
	}
	for _, r := range id[:i] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return false
		}
	}
	return id[0] >= 'a' && id[0] <= 'z' || id[0] >= 'A' && id[0] <= 'Z'
}
