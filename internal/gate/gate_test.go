package gate

import (
	"testing"

	"github.com/Micheleww/scc-gateway/internal/attestation"
	"github.com/Micheleww/scc-gateway/internal/jobstore"
)

func attestedPackFiles(t *testing.T, nonce string, contents map[string]string) []PackFile {
	t.Helper()
	var out []PackFile
	for name, content := range contents {
		raw, err := attestation.NonceBoundSha256Hex(nonce, []byte(content))
		if err != nil {
			t.Fatalf("bound hash: %v", err)
		}
		out = append(out, PackFile{
			Name:    name,
			Content: []byte(content),
			Reported: &attestation.FileHashes{
				RawSha256:        attestation.Sha256Hex([]byte(content)),
				NonceBoundSha256: raw,
			},
		})
	}
	return out
}

func baseInput(t *testing.T) Input {
	nonce, err := attestation.NewNonce()
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	contents := map[string]string{
		"manifest.json":   `{"files":[]}`,
		"pins.json":       `{"allowed_paths":["a.md"]}`,
		"preflight.json":  `{"pass":true}`,
		"task.json":       `{"goal":"x"}`,
	}
	return Input{
		TaskID: "t1",
		Strict: true,
		Submit: jobstore.Submit{
			Status:       "DONE",
			ChangedFiles: []string{"a.md"},
			Tests:        jobstore.TestsResult{Passed: true},
			ExitCode:     0,
		},
		Nonce:               nonce,
		RequiredPackFiles:   attestedPackFiles(t, nonce, contents),
		PinsMapHash:         "sha256:same",
		CurrentMapHash:      "sha256:same",
		AllowedPaths:        []string{"a.md"},
		PreflightPass:       true,
		HasEventForTask:     true,
		ReplayBundlePresent: true,
		ReplayBundleValid:   true,
	}
}

func TestEvaluate_HappyPathPasses(t *testing.T) {
	in := baseInput(t)
	r := Evaluate(in)
	if r.Verdict != VerdictPass {
		t.Fatalf("expected PASS, got %v reasons=%v", r.Verdict, r.Reasons)
	}
}

func TestEvaluate_StaleMapRetries(t *testing.T) {
	in := baseInput(t)
	in.CurrentMapHash = "sha256:newhash"
	in.PinsMapHash = "sha256:oldhash"
	r := Evaluate(in)
	if r.Verdict != VerdictRetry || r.Reasons[0] != "stale_map" {
		t.Fatalf("expected RETRY/stale_map, got %v %v", r.Verdict, r.Reasons)
	}
}

func TestEvaluate_AttestationReplayBlocks(t *testing.T) {
	in := baseInput(t)
	// Worker reports sha256(bytes) in place of sha256(nonce||bytes),
	// omitting the nonce, simulating a replayed completion.
	for i := range in.RequiredPackFiles {
		raw := attestation.Sha256Hex(in.RequiredPackFiles[i].Content)
		in.RequiredPackFiles[i].Reported.NonceBoundSha256 = raw
	}
	r := Evaluate(in)
	if r.Verdict != VerdictBlock || r.Reasons[0] != "attestation_mismatch" {
		t.Fatalf("expected BLOCK/attestation_mismatch, got %v %v", r.Verdict, r.Reasons)
	}
}

func TestEvaluate_PinsViolationBlocks(t *testing.T) {
	in := baseInput(t)
	in.AllowedPaths = []string{"src/a.js"}
	in.Submit.ChangedFiles = []string{"src/a.js", "src/secret.js"}
	r := Evaluate(in)
	if r.Verdict != VerdictBlock || r.Reasons[0] != "pins_scope" {
		t.Fatalf("expected BLOCK/pins_scope, got %v %v", r.Verdict, r.Reasons)
	}
}

func TestEvaluate_PreflightFailureNeedsInput(t *testing.T) {
	in := baseInput(t)
	in.PreflightPass = false
	in.PreflightMissing = []string{"README.md"}
	r := Evaluate(in)
	if r.Verdict != VerdictNeedInput || r.Reasons[0] != "preflight_failed" {
		t.Fatalf("expected NEED_INPUT/preflight_failed, got %v %v", r.Verdict, r.Reasons)
	}
	if len(r.NeedsInput) != 1 || r.NeedsInput[0] != "README.md" {
		t.Fatalf("expected needs_input to mirror preflight.missing, got %v", r.NeedsInput)
	}
}

func TestEvaluate_TestsFailedRetries(t *testing.T) {
	in := baseInput(t)
	in.Submit.Tests.Passed = false
	r := Evaluate(in)
	if r.Verdict != VerdictRetry || r.Reasons[0] != "tests_failed" {
		t.Fatalf("expected RETRY/tests_failed, got %v %v", r.Verdict, r.Reasons)
	}
}

func TestBuildBackfill_Deterministic(t *testing.T) {
	a, err := BuildBackfill("t1")
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	b, err := BuildBackfill("t1")
	if err != nil {
		t.Fatalf("backfill again: %v", err)
	}
	if string(a.Preflight) != string(b.Preflight) ||
		string(a.ReplayBundle) != string(b.ReplayBundle) ||
		string(a.EventsJSONL) != string(b.EventsJSONL) ||
		string(a.ReportMD) != string(b.ReportMD) {
		t.Fatalf("expected identical backfill bytes for identical taskID")
	}
}
