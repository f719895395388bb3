package jobstore

import (
	"fmt"
	"sort"
	"time"

	"github.com/Micheleww/scc-gateway/internal/attestation"
	"github.com/Micheleww/scc-gateway/internal/idgen"
	"github.com/Micheleww/scc-gateway/internal/statestore"
)

// jobsDoc is the on-disk shape of state/jobs_state.json: a single
// append-on-create list with in-place status updates (§4.C Persistence
// shape).
type jobsDoc struct {
	Jobs []*Job `json:"jobs"`
}

// Store is the persistent job queue.
type Store struct {
	store *statestore.Store
}

// New creates a Store backed by the given state-store file.
func New(ss *statestore.Store) *Store {
	return &Store{store: ss}
}

// NewJobParams are the caller-supplied fields for a fresh dispatch.
type NewJobParams struct {
	TaskID    string
	Executor  string
	Model     string
	Prompt    string
	Runner    Runner
	Priority  int
	TimeoutMS int
	ReplayOf  string

	// ContextPackV1ID is the already-materialized pack this job's worker
	// will fetch (§4.E); empty when the caller dispatches without one.
	ContextPackV1ID string
}

// Enqueue creates and persists a new queued job for params.TaskID. It
// refuses to create a second non-terminal job for the same task (§3
// invariant).
func (s *Store) Enqueue(params NewJobParams) (*Job, error) {
	var doc jobsDoc
	var created *Job
	err := s.store.UpdateSerial(&doc, func() error {
		for _, j := range doc.Jobs {
			if j.TaskID == params.TaskID && !j.Status.IsTerminal() {
				return fmt.Errorf("task %s already has a non-terminal job %s", params.TaskID, j.JobID)
			}
		}
		job := &Job{
			JobID:     idgen.NewWithPrefix("job"),
			TaskID:    params.TaskID,
			Executor:  params.Executor,
			Model:     params.Model,
			Prompt:    params.Prompt,
			Status:    StatusQueued,
			Runner:    params.Runner,
			Priority:  params.Priority,
			TimeoutMS: params.TimeoutMS,
			CreatedAt: time.Now().UTC(),
			ReplayOf:  params.ReplayOf,
			ContextPackV1ID: params.ContextPackV1ID,
		}
		doc.Jobs = append(doc.Jobs, job)
		created = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *created
	return &cp, nil
}

// eligible reports whether job can be claimed by a worker advertising
// executors/models.
func eligible(job *Job, executor string, models []string) bool {
	if job.Status != StatusQueued {
		return false
	}
	if job.Executor != executor {
		return false
	}
	if job.Model == "" {
		return true
	}
	for _, m := range models {
		if m == job.Model {
			return true
		}
	}
	return false
}

// Claim selects among queued jobs by (priority desc, createdAt asc),
// filtered by executor/model capability and the running-count cap, then
// atomically moves the chosen job to running (§4.C Claim policy). It
// returns nil, nil if no eligible job is available.
func (s *Store) Claim(executor string, models []string, workerID string, runningCap int) (*Job, error) {
	var doc jobsDoc
	var claimed *Job
	err := s.store.UpdateSerial(&doc, func() error {
		if runningCap > 0 {
			running := 0
			for _, j := range doc.Jobs {
				if j.Status == StatusRunning && j.Executor == executor {
					running++
				}
			}
			if running >= runningCap {
				return nil // cap reached; leave queued jobs queued (§4.F Fairness)
			}
		}

		var candidates []*Job
		for _, j := range doc.Jobs {
			if eligible(j, executor, models) {
				candidates = append(candidates, j)
			}
		}
		if len(candidates) == 0 {
			return nil
		}
		sort.SliceStable(candidates, func(i, k int) bool {
			if candidates[i].Priority != candidates[k].Priority {
				return candidates[i].Priority > candidates[k].Priority
			}
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		})

		job := candidates[0]
		nonce, err := attestation.NewNonce()
		if err != nil {
			return fmt.Errorf("generate attestation nonce: %w", err)
		}
		now := time.Now().UTC()
		job.Status = StatusRunning
		job.WorkerID = workerID
		job.ClaimedAt = &now
		job.LastHeartbeatAt = &now
		job.Attestation = Attestation{Nonce: nonce}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, nil
	}
	cp := *claimed
	return &cp, nil
}

// Heartbeat bumps LastHeartbeatAt for a running job claimed by workerID.
func (s *Store) Heartbeat(jobID, workerID string) error {
	var doc jobsDoc
	return s.store.UpdateSerial(&doc, func() error {
		job := findJob(doc.Jobs, jobID)
		if job == nil {
			return fmt.Errorf("job %s not found", jobID)
		}
		if job.WorkerID != workerID {
			return fmt.Errorf("job %s: worker id mismatch", jobID)
		}
		if job.Status != StatusRunning {
			return nil // stale heartbeat after the job already resolved; ignore
		}
		now := time.Now().UTC()
		job.LastHeartbeatAt = &now
		return nil
	})
}

// CompleteOutcome wraps the job a terminal status write produced.
// Store.Complete returns the *Job directly, and the lifecycle controller
// reports its own lifecycle.CompleteOutcome.
type CompleteOutcome struct {
	Job *Job
}

// Complete records a terminal submit result for jobID. workerID must
// match the job's claimant. statusOverride lets the caller assign
// succeeded/failed independent of submit.Status (e.g. attestation
// mismatch forces failed regardless of what the worker claimed).
func (s *Store) Complete(jobID, workerID string, submit Submit, statusOverride Status, failureReason string, exitCode int, stdout, stderr string) (*Job, error) {
	var doc jobsDoc
	var result *Job
	err := s.store.UpdateSerial(&doc, func() error {
		job := findJob(doc.Jobs, jobID)
		if job == nil {
			return fmt.Errorf("job %s not found", jobID)
		}
		if job.Status.IsTerminal() {
			return fmt.Errorf("job %s already terminal (%s)", jobID, job.Status)
		}
		if job.WorkerID != workerID {
			return fmt.Errorf("job %s: worker id mismatch", jobID)
		}
		now := time.Now().UTC()
		job.Status = statusOverride
		job.CompletedAt = &now
		job.Submit = &submit
		job.FailureReason = failureReason
		job.ExitCode = &exitCode
		job.Stdout = TailBound(stdout, 64*1024)
		job.Stderr = TailBound(stderr, 64*1024)
		result = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *result
	return &cp, nil
}

// Cancel moves jobID to cancelled from queued or running (§4.C/§4.G).
func (s *Store) Cancel(jobID, reason string) (*Job, error) {
	var doc jobsDoc
	var result *Job
	err := s.store.UpdateSerial(&doc, func() error {
		job := findJob(doc.Jobs, jobID)
		if job == nil {
			return fmt.Errorf("job %s not found", jobID)
		}
		if job.Status != StatusQueued && job.Status != StatusRunning {
			return fmt.Errorf("job %s: cannot cancel from %s", jobID, job.Status)
		}
		now := time.Now().UTC()
		job.Status = StatusCancelled
		job.CompletedAt = &now
		job.FailureReason = reason
		result = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *result
	return &cp, nil
}

// Get returns a copy of jobID, if present.
func (s *Store) Get(jobID string) (*Job, bool, error) {
	var doc jobsDoc
	if err := s.store.Read(&doc); err != nil {
		return nil, false, err
	}
	job := findJob(doc.Jobs, jobID)
	if job == nil {
		return nil, false, nil
	}
	cp := *job
	return &cp, true, nil
}

// GetByStatus returns all jobs currently in status.
func (s *Store) GetByStatus(status Status) ([]*Job, error) {
	var doc jobsDoc
	if err := s.store.Read(&doc); err != nil {
		return nil, err
	}
	var out []*Job
	for _, j := range doc.Jobs {
		if j.Status == status {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListRunningExternal returns all running jobs whose Runner is external,
// for the /pools aggregation.
func (s *Store) ListRunningExternal() ([]*Job, error) {
	var doc jobsDoc
	if err := s.store.Read(&doc); err != nil {
		return nil, err
	}
	var out []*Job
	for _, j := range doc.Jobs {
		if j.Status == StatusRunning && j.Runner == RunnerExternal {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CountRunning returns the number of currently-running jobs for executor.
func (s *Store) CountRunning(executor string) (int, error) {
	var doc jobsDoc
	if err := s.store.Read(&doc); err != nil {
		return 0, err
	}
	n := 0
	for _, j := range doc.Jobs {
		if j.Status == StatusRunning && j.Executor == executor {
			n++
		}
	}
	return n, nil
}

func findJob(jobs []*Job, jobID string) *Job {
	for _, j := range jobs {
		if j.JobID == jobID {
			return j
		}
	}
	return nil
}
