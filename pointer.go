package foundrydata

import (
	"strings"

	"github.com/kaptinlin/jsonpointer"
)

// RootPointer addresses the schema root in canonical form.
const RootPointer = "#"

// EscapeSegment applies JSON Pointer escaping (~ then /) to one segment.
func EscapeSegment(segment string) string {
	segment = strings.ReplaceAll(segment, "~", "~0")
	return strings.ReplaceAll(segment, "/", "~1")
}

// UnescapeSegment reverses EscapeSegment.
func UnescapeSegment(segment string) string {
	segment = strings.ReplaceAll(segment, "~1", "/")
	return strings.ReplaceAll(segment, "~0", "~")
}

// JoinPointer appends escaped segments to a canonical pointer.
func JoinPointer(base string, segments ...string) string {
	if len(segments) == 0 {
		return base
	}
	return base + jsonpointer.Format(segments...)
}

// SplitPointer returns the unescaped segments of a canonical pointer.
// The root pointer yields an empty slice.
func SplitPointer(pointer string) []string {
	body := strings.TrimPrefix(pointer, "#")
	if body == "" {
		return nil
	}
	raw := strings.Split(strings.TrimPrefix(body, "/"), "/")
	out := make([]string, len(raw))
	for i, seg := range raw {
		out[i] = UnescapeSegment(seg)
	}
	return out
}

// PointerHasPrefix reports whether pointer lives at or below prefix.
func PointerHasPrefix(pointer, prefix string) bool {
	if prefix == RootPointer {
		return true
	}
	if pointer == prefix {
		return true
	}
	return strings.HasPrefix(pointer, prefix+"/")
}

// resolvePointer walks a raw JSON document along an unescaped segment list.
func resolvePointer(doc any, segments []string) (any, bool) {
	current := doc
	for _, seg := range segments {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, ok := parseArrayIndex(seg)
			if !ok || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func parseArrayIndex(seg string) (int, bool) {
	if seg == "" || (len(seg) > 1 && seg[0] == '0') {
		return 0, false
	}
	n := 0
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
