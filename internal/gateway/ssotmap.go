package gateway

import (
	"encoding/json"
	"os"
)

// mapVersion is the shape of map/version.json (§6.2): externally built,
// read-only from the gateway's perspective.
type mapVersion struct {
	Hash string `json:"hash"`
}

// readMapHash reads the current SSOT map hash, returning "" (no-op for
// the SSOT-Map gate stage) when path is unset or unreadable.
func readMapHash(path string) string {
	if path == "" {
		return ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var v mapVersion
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v.Hash
}
