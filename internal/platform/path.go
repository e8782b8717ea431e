package platform

import (
	"strconv"
	"strings"
)

// Lookup walks a decoded JSON value along a dotted path such as "artists.0.name".
// Numeric segments index into arrays. It returns nil when any step is missing.
func Lookup(v any, path string) any {
	if path == "" {
		return v
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			cur = node[i]
		default:
			return nil
		}
	}
	return cur
}

// LookupFirst returns the first non-empty value among paths.
func LookupFirst(v any, paths ...string) any {
	for _, p := range paths {
		if got := Lookup(v, p); got != nil && got != "" {
			return got
		}
	}
	return nil
}
