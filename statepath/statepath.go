// Package statepath resolves a dotted path ("a.b.c") against a nested
// decoded-JSON value (map[string]any / []any tree), shared by the scheduler
// (matrix from_state resolution) and the variable resolver (${state.path}
// substitution).
package statepath

import (
	"strconv"
	"strings"
)

// Resolve walks dotted path segments against root. A missing key, an index
// out of range, or a path segment applied to a non-container value all
// report ok=false rather than an error: both callers treat an unresolved
// path as "no value" rather than a hard failure.
func Resolve(root map[string]any, path string) (any, bool) {
	if path == "" {
		return root, true
	}
	var cur any = root
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
