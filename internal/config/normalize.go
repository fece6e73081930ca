package config

import (
	"sort"
	"strings"
	"unicode"
)

// SnakeKey converts a camelCase key to snake_case. Keys that already contain an
// underscore are returned unchanged.
func SnakeKey(key string) string {
	if strings.Contains(key, "_") {
		return key
	}
	var b strings.Builder
	b.Grow(len(key) + 4)
	for i, r := range key {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// NormalizeKeys returns a copy of raw with every key in snake_case and every
// nil value dropped. A key that is already canonical wins over an
// alternate-case key that normalizes to the same name, including when its
// value is nil: the name is then absent from the result. Nil or empty input
// yields an empty, non-nil map.
func NormalizeKeys(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	if len(raw) == 0 {
		return out
	}

	var alternates []string
	nulled := make(map[string]struct{})
	for key, value := range raw {
		canonical := SnakeKey(key) == key
		if value == nil {
			if canonical {
				nulled[key] = struct{}{}
			}
			continue
		}
		if canonical {
			out[key] = value
			continue
		}
		alternates = append(alternates, key)
	}

	// Sorted so that two alternates colliding on one name resolve the same way every run.
	sort.Strings(alternates)
	for _, key := range alternates {
		canonical := SnakeKey(key)
		if _, taken := out[canonical]; taken {
			continue
		}
		if _, null := nulled[canonical]; null {
			continue
		}
		out[canonical] = raw[key]
	}
	return out
}
