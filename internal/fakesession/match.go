// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package fakesession

import "strings"

// keyExprIntersects reports whether two key expressions can both match at
// least one concrete key, supporting the `*` (single segment) and `**`
// (zero or more segments) wildcards on either side. The real generic
// key-expression engine is an out-of-scope external collaborator (spec.md
// §1); this is a minimal stand-in so the in-memory fake session can route
// publishes, queries, and liveliness events during tests and the demo.
func keyExprIntersects(a, b string) bool {
	return segmentsIntersect(strings.Split(a, "/"), strings.Split(b, "/"))
}

func segmentsIntersect(a, b []string) bool {
	switch {
	case len(a) == 0 && len(b) == 0:
		return true
	case len(a) == 0:
		return isAllDoubleStar(b)
	case len(b) == 0:
		return isAllDoubleStar(a)
	}

	if a[0] == "**" {
		if segmentsIntersect(a[1:], b) {
			return true
		}
		return segmentsIntersect(a, b[1:])
	}
	if b[0] == "**" {
		if segmentsIntersect(a, b[1:]) {
			return true
		}
		return segmentsIntersect(a[1:], b)
	}
	if a[0] == "*" || b[0] == "*" || a[0] == b[0] {
		return segmentsIntersect(a[1:], b[1:])
	}
	return false
}

func isAllDoubleStar(segs []string) bool {
	for _, s := range segs {
		if s != "**" {
			return false
		}
	}
	return true
}
