// Package lifecycle implements the Lifecycle Controller (§4.G): the only
// component that drives board.Task and jobstore.Job state transitions.
// Every mutation funnels through here so the board/job-store invariants
// (a task has at most one non-terminal job; a job is never mutated after
// reaching a terminal state) hold regardless of caller. Structure follows
// kilroy's engine.Runner, which is likewise the single place a pipeline's
// stage transitions are applied.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/Micheleww/scc-gateway/internal/board"
	"github.com/Micheleww/scc-gateway/internal/eventlog"
	"github.com/Micheleww/scc-gateway/internal/gate"
	"github.com/Micheleww/scc-gateway/internal/jobstore"
	"github.com/Micheleww/scc-gateway/internal/scheduler"
	"github.com/Micheleww/scc-gateway/internal/worker"
)

// DefaultMaxRetries is the cap on RETRY-driven re-dispatches (§4.H.3).
const DefaultMaxRetries = 3

// DefaultStaleWindow is the reaper's worker-silence threshold (§4.G).
const DefaultStaleWindow = 180 * time.Second

// Controller wires the board, job store, scheduler, and worker registry
// together behind the trigger verbs §4.G names.
type Controller struct {
	Board    *board.Board
	Jobs     *jobstore.Store
	Sched    *scheduler.Scheduler
	Workers  *worker.Registry
	Events   *eventlog.Log

	MaxRetries  int
	StaleWindow time.Duration
}

// New creates a Controller with spec defaults for MaxRetries/StaleWindow.
func New(b *board.Board, jobs *jobstore.Store, sched *scheduler.Scheduler, workers *worker.Registry, events *eventlog.Log) *Controller {
	return &Controller{
		Board:       b,
		Jobs:        jobs,
		Sched:       sched,
		Workers:     workers,
		Events:      events,
		MaxRetries:  DefaultMaxRetries,
		StaleWindow: DefaultStaleWindow,
	}
}

// EnqueueParams are the caller-supplied fields for a fresh dispatch
// (§4.G enqueue).
type EnqueueParams struct {
	TaskID    string
	Executor  string
	Model     string
	Prompt    string
	Runner    jobstore.Runner
	Priority  int
	TimeoutMS int
	ReplayOf  string

	ContextPackV1ID string
}

// Enqueue creates a job for an atomic task and moves it ready -> dispatched.
func (c *Controller) Enqueue(p EnqueueParams) (*jobstore.Job, error) {
	task, ok, err := c.Board.Get(p.TaskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("task %s not found", p.TaskID)
	}
	if task.Kind != board.KindAtomic {
		return nil, fmt.Errorf("task %s: only atomic tasks are dispatched directly", p.TaskID)
	}

	job, err := c.Jobs.Enqueue(jobstore.NewJobParams{
		TaskID:          p.TaskID,
		Executor:        p.Executor,
		Model:           p.Model,
		Prompt:          p.Prompt,
		Runner:          p.Runner,
		Priority:        p.Priority,
		TimeoutMS:       p.TimeoutMS,
		ReplayOf:        p.ReplayOf,
		ContextPackV1ID: p.ContextPackV1ID,
	})
	if err != nil {
		return nil, err
	}

	if _, err := c.Board.Transition(p.TaskID, board.StatusDispatched); err != nil {
		return nil, err
	}
	if c.Sched != nil {
		c.Sched.Wake(p.Executor)
	}
	return job, nil
}

// Claim hands a queued job to workerID via the scheduler, then moves the
// underlying task dispatched -> in_progress and emits JOB_CLAIMED
// (§4.G claim).
func (c *Controller) Claim(ctx context.Context, executor string, models []string, workerID string, waitMs int) (*jobstore.Job, error) {
	job, err := c.Sched.Claim(ctx, executor, models, workerID, waitMs)
	if err != nil || job == nil {
		return job, err
	}

	if _, err := c.Board.Transition(job.TaskID, board.StatusInProgress); err != nil {
		return nil, err
	}
	if c.Events != nil {
		_ = c.Events.Append(eventlog.Event{
			EventType: eventlog.JobClaimed,
			TaskID:    job.TaskID,
			Executor:  executor,
			Details:   map[string]any{"job_id": job.JobID, "worker_id": workerID},
		})
	}
	return job, nil
}

// Heartbeat updates worker lastSeen and the job's heartbeat timestamp; it
// never changes job or task status (§4.G heartbeat).
func (c *Controller) Heartbeat(jobID, workerID string) error {
	if err := c.Jobs.Heartbeat(jobID, workerID); err != nil {
		return err
	}
	c.Workers.Heartbeat(workerID, jobID)
	return nil
}

// Cancel moves a queued/running job to cancelled and its task back to
// ready, unless reason is terminal (§4.G cancel).
func (c *Controller) Cancel(jobID, reason string) error {
	job, err := c.Jobs.Cancel(jobID, reason)
	if err != nil {
		return err
	}
	if isTerminalReason(reason) {
		_, err := c.Board.Transition(job.TaskID, board.StatusFailed)
		return err
	}
	return c.returnToReady(job.TaskID)
}

// returnToReady moves a task back to ready via the board's documented
// failed -> ready arrow (§4.B): an in-progress attempt that is being
// retried first resolves as failed, then re-enters ready for the next
// dispatch. need_input tasks go through their own need_input -> ready
// arrow instead.
func (c *Controller) returnToReady(taskID string) error {
	task, ok, err := c.Board.Get(taskID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	if task.Status != board.StatusFailed && task.Status != board.StatusNeedInput {
		if _, err := c.Board.Transition(taskID, board.StatusFailed); err != nil {
			return err
		}
	}
	_, err = c.Board.Transition(taskID, board.StatusReady)
	return err
}

func isTerminalReason(reason string) bool {
	return reason == "policy_block"
}

// ReaperTick runs one pass of the periodic reaper (§4.G reaper): cancels
// running jobs whose worker has gone silent past StaleWindow or whose
// timeout has elapsed, and clears stale worker claims. timeout takes
// priority over worker_dead when both are true.
func (c *Controller) ReaperTick() error {
	running, err := c.Jobs.GetByStatus(jobstore.StatusRunning)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, j := range running {
		lastSeen := j.ClaimedAt
		if j.LastHeartbeatAt != nil {
			lastSeen = j.LastHeartbeatAt
		}
		timedOut := j.TimeoutMS > 0 && j.ClaimedAt != nil && now.Sub(*j.ClaimedAt) > time.Duration(j.TimeoutMS)*time.Millisecond
		stale := lastSeen != nil && now.Sub(*lastSeen) > c.StaleWindow

		switch {
		case timedOut:
			if err := c.reapJob(j, "timeout"); err != nil {
				return err
			}
		case stale:
			if err := c.reapJob(j, "worker_dead"); err != nil {
				return err
			}
		}
	}

	for _, w := range c.Workers.StaleClaims() {
		c.Workers.ClearRunningJob(w.WorkerID)
	}
	return nil
}

func (c *Controller) reapJob(j *jobstore.Job, reason string) error {
	cancelled, err := c.Jobs.Cancel(j.JobID, reason)
	if err != nil {
		return err
	}
	eventType := eventlog.WorkerDead
	if reason == "timeout" {
		eventType = eventlog.JobTimeout
	}
	if c.Events != nil {
		_ = c.Events.Append(eventlog.Event{
			EventType: eventType,
			TaskID:    cancelled.TaskID,
			Reason:    reason,
			Details:   map[string]any{"job_id": cancelled.JobID},
		})
	}

	task, ok, err := c.Board.Get(cancelled.TaskID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if task.Attempts < c.MaxRetries {
		return c.returnToReady(cancelled.TaskID)
	}
	_, err = c.Board.Transition(cancelled.TaskID, board.StatusFailed)
	return err
}

// CompleteParams bundles everything Complete needs from the caller
// (gateway handler), which has already assembled the gate.Input.
type CompleteParams struct {
	JobID    string
	WorkerID string
	Submit   jobstore.Submit
	ExitCode int
	Stdout   string
	Stderr   string

	// AttestationOK is pre-verified by the caller (gateway), which knows
	// how to recompute server-side hashes from the context pack. When
	// false, completion is forced to failed/attestation_mismatch without
	// running the rest of the gate pipeline (§4.G complete).
	AttestationOK bool

	// Gate is the already-evaluated pipeline result for this submit;
	// lifecycle only applies its task-transition consequences. Ignored
	// when AttestationOK is false.
	Gate gate.Result
}

// CompleteOutcome reports what Complete did, for the HTTP handler to
// render a response.
type CompleteOutcome struct {
	Job            *jobstore.Job
	TaskStatus     board.Status
	Verdict        gate.Verdict
	AttemptsAfter  int
}

// Complete applies a worker's submission: verifies the workerId matches,
// records the terminal job outcome, and applies the gate verdict's task
// transition (§4.G complete).
func (c *Controller) Complete(p CompleteParams) (*CompleteOutcome, error) {
	if !p.AttestationOK {
		job, err := c.Jobs.Complete(p.JobID, p.WorkerID, p.Submit, jobstore.StatusFailed, "attestation_mismatch", p.ExitCode, p.Stdout, p.Stderr)
		if err != nil {
			return nil, err
		}
		if c.Events != nil {
			_ = c.Events.Append(eventlog.Event{
				EventType: eventlog.ExecutorError,
				TaskID:    job.TaskID,
				Reason:    "attestation_mismatch",
				Details:   map[string]any{"job_id": job.JobID},
			})
		}
		if _, err := c.Board.Transition(job.TaskID, board.StatusFailed); err != nil {
			return nil, err
		}
		return &CompleteOutcome{Job: job, TaskStatus: board.StatusFailed, Verdict: gate.VerdictBlock}, nil
	}

	jobStatus := jobstore.StatusSucceeded
	if p.Submit.Status != "DONE" {
		jobStatus = jobstore.StatusFailed
	}
	job, err := c.Jobs.Complete(p.JobID, p.WorkerID, p.Submit, jobStatus, "", p.ExitCode, p.Stdout, p.Stderr)
	if err != nil {
		return nil, err
	}

	attemptsAfter := 0
	var newTaskStatus board.Status
	switch p.Gate.Verdict {
	case gate.VerdictPass:
		newTaskStatus = board.StatusDone
		if _, err := c.Board.Transition(job.TaskID, newTaskStatus); err != nil {
			return nil, err
		}
		if c.Events != nil {
			_ = c.Events.Append(eventlog.Event{EventType: eventlog.Success, TaskID: job.TaskID, Details: map[string]any{"job_id": job.JobID}})
		}
	case gate.VerdictRetry:
		newTaskStatus = board.StatusReady
		if err := c.returnToReady(job.TaskID); err != nil {
			return nil, err
		}
		n, err := c.Board.IncrementAttempts(job.TaskID)
		if err != nil {
			return nil, err
		}
		attemptsAfter = n
		if c.Events != nil {
			_ = c.Events.Append(eventlog.Event{EventType: eventlog.CIFailed, TaskID: job.TaskID, Reason: joinReasons(p.Gate.Reasons), Details: map[string]any{"job_id": job.JobID}})
		}
	case gate.VerdictNeedInput:
		newTaskStatus = board.StatusNeedInput
		if _, err := c.Board.Transition(job.TaskID, newTaskStatus); err != nil {
			return nil, err
		}
		if c.Events != nil {
			_ = c.Events.Append(eventlog.Event{EventType: eventlog.PreflightFailed, TaskID: job.TaskID, Reason: joinReasons(p.Gate.Reasons), Details: map[string]any{"needs_input": p.Gate.NeedsInput}})
		}
	case gate.VerdictBlock:
		newTaskStatus = board.StatusFailed
		if _, err := c.Board.Transition(job.TaskID, newTaskStatus); err != nil {
			return nil, err
		}
		if c.Events != nil {
			blockType := eventlog.ExecutorError
			if len(p.Gate.Reasons) > 0 && p.Gate.Reasons[0] == "pins_scope" {
				blockType = eventlog.PinsInsufficient
			}
			_ = c.Events.Append(eventlog.Event{EventType: blockType, TaskID: job.TaskID, Reason: joinReasons(p.Gate.Reasons)})
		}
	default:
		return nil, fmt.Errorf("job %s: unrecognized verdict %q", job.JobID, p.Gate.Verdict)
	}

	if task, ok, err := c.Board.Get(job.TaskID); err == nil && ok && task.Pointers.ParentID != "" {
		_, _ = c.Board.RecomputeParentStatus(task.Pointers.ParentID)
	}

	return &CompleteOutcome{Job: job, TaskStatus: newTaskStatus, Verdict: p.Gate.Verdict, AttemptsAfter: attemptsAfter}, nil
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	return reasons[0]
}
