// Package utils holds tiny helpers shared across layers. Nothing in here
// knows about threads, documents, or HTTP.
package utils

import "strconv"

// AtoiDefault parses s as an int, falling back to def when s is empty or
// not a number. Query-string pagination params flow through here, so the
// permissive fallback is deliberate.
func AtoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// ClampInt bounds n to the inclusive range [lo, hi].
func ClampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
