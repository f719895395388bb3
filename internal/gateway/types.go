package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/Micheleww/scc-gateway/internal/jobstore"
)

// ErrorResponse is the uniform JSON error envelope every 4xx/5xx carries.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// SplitChild is one child task stub in a split request.
type SplitChild struct {
	TaskID           string   `json:"task_id"`
	Title            string   `json:"title"`
	Goal             string   `json:"goal"`
	Role             string   `json:"role"`
	Area             string   `json:"area"`
	Lane             string   `json:"lane,omitempty"`
	Files            []string `json:"files,omitempty"`
	AllowedPaths     []string `json:"allowed_paths,omitempty"`
	AllowedTests     []string `json:"allowedTests,omitempty"`
	AllowedExecutors []string `json:"allowedExecutors,omitempty"`
	AllowedModels    []string `json:"allowedModels,omitempty"`
}

// SplitRequest is the POST /board/tasks/:id/split body.
type SplitRequest struct {
	Children []SplitChild `json:"children"`
}

// DispatchRequest is the POST /board/tasks/:id/dispatch body. An empty
// executor falls back to the first of the task's allowed executors, and a
// zero timeout to the configured per-executor default. An empty model is
// passed through as is, leaving the job unpinned to any model.
type DispatchRequest struct {
	Executor         string `json:"executor,omitempty"`
	Model            string `json:"model,omitempty"`
	Prompt           string `json:"prompt,omitempty"`
	PriorityOverride *int   `json:"priorityOverride,omitempty"`
	TimeoutMS        int    `json:"timeoutMs,omitempty"`
	ReplayOf         string `json:"replayOf,omitempty"`
}

// RegisterWorkerRequest is the POST /executor/workers/register body.
type RegisterWorkerRequest struct {
	Name      string   `json:"name"`
	Executors []string `json:"executors"`
	Models    []string `json:"models"`
}

// HeartbeatRequest is the POST /executor/workers/:id/heartbeat body.
type HeartbeatRequest struct {
	RunningJobID string `json:"runningJobId,omitempty"`
}

// CompleteRequest is the POST /executor/jobs/:id/complete body (§6.1).
type CompleteRequest struct {
	WorkerID string `json:"workerId"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`

	Submit submitDoc `json:"submit"`

	AttestationNonce            string            `json:"attestation_nonce"`
	TaskBundleFilesSha256        map[string]string `json:"task_bundle_files_sha256"`
	TaskBundleFilesAttestSha256  map[string]string `json:"task_bundle_files_attest_sha256"`
	ContextPackV1JSONSha256      string            `json:"context_pack_v1_json_sha256,omitempty"`
	ContextPackV1JSONAttestSha256 string           `json:"context_pack_v1_json_attest_sha256,omitempty"`
}

// submitDoc mirrors jobstore.Submit for wire decoding.
type submitDoc struct {
	Status       string   `json:"status"`
	ReasonCode   string   `json:"reason_code,omitempty"`
	ChangedFiles []string `json:"changed_files,omitempty"`
	Tests        struct {
		Commands []string `json:"commands,omitempty"`
		Passed   bool     `json:"passed"`
		Summary  string   `json:"summary,omitempty"`
	} `json:"tests"`
	Artifacts struct {
		ReportMD    string `json:"report_md,omitempty"`
		SelftestLog string `json:"selftest_log,omitempty"`
		EvidenceDir string `json:"evidence_dir,omitempty"`
		PatchDiff   string `json:"patch_diff,omitempty"`
		SubmitJSON  string `json:"submit_json,omitempty"`
	} `json:"artifacts"`
	ExitCode   int      `json:"exit_code"`
	NeedsInput []string `json:"needs_input,omitempty"`
}

// TaskBundle is the set of raw-fetch URLs for a claimed job's context pack
// files (§4.F point 3, §6.1), so a worker never has to hand-construct the
// /bundle/{packId}/{file}?format=raw convention itself.
type TaskBundle struct {
	FetchManifestRaw     string `json:"fetch_manifest_raw"`
	FetchTaskRaw         string `json:"fetch_task_raw"`
	FetchPinsRaw         string `json:"fetch_pins_raw"`
	FetchPreflightRaw    string `json:"fetch_preflight_raw"`
	FetchReplayBundleRaw string `json:"fetch_replay_bundle_raw,omitempty"`
}

// ClaimResponse is the GET /executor/workers/:id/claim 200 body: the
// claimed job plus its taskBundle of raw-fetch URLs.
type ClaimResponse struct {
	*jobstore.Job
	TaskBundle TaskBundle `json:"taskBundle"`
}
