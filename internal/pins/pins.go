// Package pins validates that a set of changed/new files stays within a
// task's allowed read/write scope (§4.H.1 Pins stage, §8 P4). Allowed
// paths may be exact repo-relative files or doublestar glob patterns
// (e.g. "src/**/*.go"), matched with bmatcuk/doublestar.
package pins

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Contains reports whether path is covered by any entry in allowed:
// an exact match, a directory prefix ("src/" covers "src/a.go"), or a
// doublestar glob pattern.
func Contains(allowed []string, path string) bool {
	for _, pattern := range allowed {
		if pattern == path {
			return true
		}
		if strings.HasSuffix(pattern, "/") && strings.HasPrefix(path, pattern) {
			return true
		}
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// Violations returns the subset of changed that is not covered by any
// entry in allowed, preserving order. An empty result means changed is a
// subset of allowed (the Pins stage passes).
func Violations(allowed, changed []string) []string {
	var out []string
	for _, c := range changed {
		if !Contains(allowed, c) {
			out = append(out, c)
		}
	}
	return out
}
