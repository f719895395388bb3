// Package gate implements the Gate Pipeline (§4.H): the deterministic,
// ordered sequence of checks a completed job's submit document passes
// through before the lifecycle controller applies a task transition.
// Stage order and short-circuit behavior are grounded on kilroy's
// contract evaluation chain (internal/contracts), which likewise walks a
// fixed list of checks and stops at the first failure.
package gate

import (
	"fmt"
	"sort"

	"github.com/Micheleww/scc-gateway/internal/attestation"
	"github.com/Micheleww/scc-gateway/internal/contextpack"
	"github.com/Micheleww/scc-gateway/internal/eventlog"
	"github.com/Micheleww/scc-gateway/internal/jobstore"
	"github.com/Micheleww/scc-gateway/internal/pins"
	"github.com/Micheleww/scc-gateway/internal/schema"
)

// Verdict is the gate's terminal output (§4.H.3).
type Verdict string

const (
	VerdictPass      Verdict = "PASS"
	VerdictRetry     Verdict = "RETRY"
	VerdictNeedInput Verdict = "NEED_INPUT"
	VerdictBlock     Verdict = "BLOCK"
)

// Action is a follow-up the lifecycle controller executes for a verdict
// (§4.H.3).
type Action string

const (
	ActionRetry     Action = "retry"
	ActionEscalate  Action = "escalate"
	ActionNeedInput Action = "need_input"
	ActionBlock     Action = "block"
)

// Result is the full gate output: {verdict, reasons[], actions[]} plus
// any needs_input list surfaced by the Preflight stage.
type Result struct {
	Verdict    Verdict  `json:"verdict"`
	Reasons    []string `json:"reasons"`
	Actions    []Action `json:"actions"`
	NeedsInput []string `json:"needs_input,omitempty"`
}

// PackFile is one required attestation file: its canonical server-side
// content and the hashes the worker reported for it.
type PackFile struct {
	Name     string
	Content  []byte
	Reported *attestation.FileHashes // nil if the worker never reported this file
}

// Input bundles everything a single gate run needs. All fields are
// precomputed by the caller (the gateway's completion handler); gate itself performs
// no I/O beyond schema compilation.
type Input struct {
	TaskID string
	Strict bool

	Submit jobstore.Submit
	Nonce  string

	RequiredPackFiles []PackFile

	PinsMapHash    string
	CurrentMapHash string

	AllowedPaths []string

	PreflightPass    bool
	PreflightMissing []string

	HasEventForTask bool

	ReplayBundlePresent bool
	ReplayBundleValid   bool
}

var submitSchema = mustCompileSubmit()

func mustCompileSubmit() interface {
	Validate(v any) error
} {
	s, err := schema.Compile("scc.submit.v1", schema.SubmitV1)
	if err != nil {
		panic(fmt.Sprintf("compile embedded submit schema: %v", err))
	}
	return s
}

// Evaluate walks the 8 ordered stages of §4.H.1, stopping at the first
// stage that does not produce PASS.
func Evaluate(in Input) Result {
	if r, ok := stageAttestation(in); !ok {
		return r
	}
	if r, ok := stageSchema(in); !ok {
		return r
	}
	if r, ok := stageSSOTMap(in); !ok {
		return r
	}
	if r, ok := stagePreflight(in); !ok {
		return r
	}
	if r, ok := stagePins(in); !ok {
		return r
	}
	if r, ok := stageEvents(in); !ok {
		return r
	}
	if r, ok := stageTests(in); !ok {
		return r
	}
	if r, ok := stageReplay(in); !ok {
		return r
	}
	return Result{Verdict: VerdictPass, Reasons: nil, Actions: nil}
}

// stageAttestation is stage 1. Skipped (with a caller-logged warning) when
// Strict is false, per §4.H.1.
func stageAttestation(in Input) (Result, bool) {
	if !in.Strict {
		return Result{}, true
	}
	for _, f := range in.RequiredPackFiles {
		if f.Reported == nil {
			return blockResult("attestation_mismatch"), false
		}
		ok, err := attestation.Verify(in.Nonce, f.Content, *f.Reported)
		if err != nil || !ok {
			return blockResult("attestation_mismatch"), false
		}
	}
	return Result{}, true
}

// stageSchema is stage 2.
func stageSchema(in Input) (Result, bool) {
	v := submitAsMap(in.Submit)
	if err := submitSchema.Validate(v); err != nil {
		return blockResult("schema"), false
	}
	return Result{}, true
}

// stageSSOTMap is stage 3.
func stageSSOTMap(in Input) (Result, bool) {
	if in.PinsMapHash != "" && in.CurrentMapHash != "" && in.PinsMapHash != in.CurrentMapHash {
		return retryResult("stale_map"), false
	}
	return Result{}, true
}

// stagePreflight is stage 4.
func stagePreflight(in Input) (Result, bool) {
	if !in.PreflightPass {
		return Result{
			Verdict:    VerdictNeedInput,
			Reasons:    []string{"preflight_failed"},
			Actions:    []Action{ActionNeedInput},
			NeedsInput: in.PreflightMissing,
		}, false
	}
	return Result{}, true
}

// stagePins is stage 5.
func stagePins(in Input) (Result, bool) {
	violations := pins.Violations(in.AllowedPaths, in.Submit.ChangedFiles)
	if len(violations) > 0 {
		return blockResult("pins_scope"), false
	}
	return Result{}, true
}

// stageEvents is stage 6, strict only.
func stageEvents(in Input) (Result, bool) {
	if in.Strict && !in.HasEventForTask {
		return retryResult("missing_event"), false
	}
	return Result{}, true
}

// stageTests is stage 7.
func stageTests(in Input) (Result, bool) {
	if !in.Submit.Tests.Passed {
		return retryResult("tests_failed"), false
	}
	return Result{}, true
}

// stageReplay is stage 8.
func stageReplay(in Input) (Result, bool) {
	if !in.ReplayBundlePresent || !in.ReplayBundleValid {
		return retryResult("missing_replay_bundle"), false
	}
	return Result{}, true
}

func blockResult(reason string) Result {
	return Result{Verdict: VerdictBlock, Reasons: []string{reason}, Actions: []Action{ActionBlock}}
}

func retryResult(reason string) Result {
	return Result{Verdict: VerdictRetry, Reasons: []string{reason}, Actions: []Action{ActionRetry}}
}

func submitAsMap(s jobstore.Submit) map[string]any {
	out := map[string]any{
		"status":    s.Status,
		"exit_code": s.ExitCode,
	}
	if s.ReasonCode != "" {
		out["reason_code"] = s.ReasonCode
	}
	if len(s.ChangedFiles) > 0 {
		out["changed_files"] = toAnySlice(s.ChangedFiles)
	}
	out["tests"] = map[string]any{
		"commands": toAnySlice(s.Tests.Commands),
		"passed":   s.Tests.Passed,
		"summary":  s.Tests.Summary,
	}
	out["artifacts"] = artifactsAsMap(s.Artifacts)
	if len(s.NeedsInput) > 0 {
		out["needs_input"] = toAnySlice(s.NeedsInput)
	}
	return out
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// artifactsAsMap projects Artifacts into a JSON-schema-friendly map, skipping
// unset fields.
func artifactsAsMap(a jobstore.Artifacts) map[string]any {
	out := map[string]any{}
	if a.ReportMD != "" {
		out["report_md"] = a.ReportMD
	}
	if a.SelftestLog != "" {
		out["selftest_log"] = a.SelftestLog
	}
	if a.EvidenceDir != "" {
		out["evidence_dir"] = a.EvidenceDir
	}
	if a.PatchDiff != "" {
		out["patch_diff"] = a.PatchDiff
	}
	if a.SubmitJSON != "" {
		out["submit_json"] = a.SubmitJSON
	}
	return out
}

// RequiredPackFileNames returns the fixed set of pack files that must be
// attested, adding replay_bundle only when the pack had one (§4.H.1).
func RequiredPackFileNames(hadReplayBundle bool) []string {
	names := []string{contextpack.FileManifest, contextpack.FilePins, contextpack.FilePreflight, contextpack.FileTask}
	if hadReplayBundle {
		names = append(names, contextpack.FileReplayBundle)
	}
	sort.Strings(names)
	return names
}

// LogSkippedAttestationWarning is a helper the gateway calls to emit the
// §4.H.1 warning event when non-strict mode skips the Attestation stage.
func LogSkippedAttestationWarning(log *eventlog.Log, taskID string) error {
	return log.Append(eventlog.Event{
		EventType: eventlog.ExecutorError,
		TaskID:    taskID,
		Reason:    "attestation_skipped_non_strict",
		Details:   map[string]any{"warning": true},
	})
}

