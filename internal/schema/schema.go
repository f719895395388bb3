// Package schema compiles and validates the gateway's JSON-Schema-backed
// wire documents (§6.3). The submit document (scc.submit.v1) is the only
// schema defined here. Grounded
// on kilroy's agent.tool_registry.compileSchema, which compiles a tool's
// JSON Schema once and validates call arguments against it.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Compile builds a *jsonschema.Schema from a JSON-Schema document given
// as a Go value (typically map[string]any), the same shape
// tool_registry.compileSchema accepts for tool parameter schemas.
func Compile(name string, schemaDoc any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".json", strings.NewReader(string(b))); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	return c.Compile(name + ".json")
}

// ValidateJSON validates raw JSON bytes against a compiled schema.
func ValidateJSON(s *jsonschema.Schema, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return s.Validate(v)
}

// SubmitV1 is the JSON Schema for scc.submit.v1 (§3 Submit, §6.3).
var SubmitV1 = map[string]any{
	"type":     "object",
	"required": []any{"status", "exit_code"},
	"properties": map[string]any{
		"status": map[string]any{
			"type": "string",
			"enum": []any{"DONE", "FAILED", "NEED_INPUT"},
		},
		"reason_code":   map[string]any{"type": "string"},
		"changed_files": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"tests": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"commands": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"passed":   map[string]any{"type": "boolean"},
				"summary":  map[string]any{"type": "string"},
			},
		},
		"artifacts": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"report_md":    map[string]any{"type": "string"},
				"selftest_log": map[string]any{"type": "string"},
				"evidence_dir": map[string]any{"type": "string"},
				"patch_diff":   map[string]any{"type": "string"},
				"submit_json":  map[string]any{"type": "string"},
			},
		},
		"exit_code":   map[string]any{"type": "integer"},
		"needs_input": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
}
