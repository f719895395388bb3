// Package jobstore implements the persistent job queue (§4.C): one job
// per dispatch attempt of one atomic task, claimed atomically under a
// single lock shared with the scheduler and lifecycle controller.
package jobstore

import "time"

// Status is a job's lifecycle state (§3).
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether status ends the job's lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Runner mirrors board.Runner without importing the board package, since
// jobs are the lower-level primitive the board's dispatch reaches into.
type Runner string

const (
	RunnerInternal Runner = "internal"
	RunnerExternal Runner = "external"
)

// Attestation is the per-claim nonce bound into completion hashes.
type Attestation struct {
	Nonce string `json:"nonce"`
}

// Submit is the worker-supplied outcome record (§3 Submit).
type Submit struct {
	Status string `json:"status"` // DONE | FAILED | NEED_INPUT
	ReasonCode string `json:"reason_code,omitempty"`
	ChangedFiles []string `json:"changed_files,omitempty"`
	Tests      TestsResult `json:"tests"`
	Artifacts  Artifacts   `json:"artifacts"`
	ExitCode   int         `json:"exit_code"`
	NeedsInput []string    `json:"needs_input,omitempty"`
}

// TestsResult summarizes the worker's test run.
type TestsResult struct {
	Commands []string `json:"commands,omitempty"`
	Passed   bool     `json:"passed"`
	Summary  string   `json:"summary,omitempty"`
}

// Artifacts enumerates on-disk artifact paths the worker produced.
type Artifacts struct {
	ReportMD      string `json:"report_md,omitempty"`
	SelftestLog   string `json:"selftest_log,omitempty"`
	EvidenceDir   string `json:"evidence_dir,omitempty"`
	PatchDiff     string `json:"patch_diff,omitempty"`
	SubmitJSON    string `json:"submit_json,omitempty"`
}

// Job is the queue's unit entity (§3 Job). At most one job per TaskID is
// simultaneously non-terminal (enforced by Store.Enqueue).
type Job struct {
	JobID  string `json:"jobId"`
	TaskID string `json:"taskId"`

	Executor string `json:"executor"`
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`

	Status Status `json:"status"`
	Runner Runner `json:"runner"`

	Priority  int `json:"priority"`
	TimeoutMS int `json:"timeoutMs"`

	CreatedAt   time.Time  `json:"createdAt"`
	ClaimedAt   *time.Time `json:"claimedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	LastHeartbeatAt *time.Time `json:"lastHeartbeatAt,omitempty"`

	WorkerID string `json:"workerId,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Stdout   string `json:"stdout,omitempty"` // tail-bounded
	Stderr   string `json:"stderr,omitempty"` // tail-bounded

	Attestation Attestation `json:"attestation"`

	ContextPackV1ID string `json:"contextPackV1Id,omitempty"`

	// ReplayOf, when set, names the verified job this dispatch replays.
	// It is threaded into the context pack so the pack gets a
	// replay_bundle.json.
	ReplayOf string `json:"replayOf,omitempty"`

	Submit *Submit `json:"submit,omitempty"`

	FailureReason string `json:"failureReason,omitempty"`
}

// TailBound returns s truncated to the last maxLen bytes, matching the
// spec's "tail-bounded" stdout/stderr fields.
func TailBound(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}
