// Package idgen generates ULIDs for the gateway's entity identifiers.
package idgen

import (
	"github.com/oklog/ulid/v2"
)

// New returns a fresh, lexicographically-sortable ULID string.
func New() string {
	return ulid.Make().String()
}

// NewWithPrefix returns a ULID string prefixed with a short tag, e.g.
// "task_01HXYZ...", making ids self-describing in logs and HTTP bodies.
func NewWithPrefix(prefix string) string {
	return prefix + "_" + ulid.Make().String()
}
