package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Micheleww/scc-gateway/internal/board"
	"github.com/Micheleww/scc-gateway/internal/eventlog"
	"github.com/Micheleww/scc-gateway/internal/gate"
	"github.com/Micheleww/scc-gateway/internal/jobstore"
	"github.com/Micheleww/scc-gateway/internal/scheduler"
	"github.com/Micheleww/scc-gateway/internal/statestore"
	"github.com/Micheleww/scc-gateway/internal/worker"
)

func newController(t *testing.T) *Controller {
	t.Helper()
	dir := t.TempDir()
	b := board.New(statestore.New(filepath.Join(dir, "board.json"), nil))
	jobs := jobstore.New(statestore.New(filepath.Join(dir, "jobs_state.json"), nil))
	sched := scheduler.New(jobs, func(string) int { return 0 })
	workers := worker.New(2*time.Minute, time.Second)
	events := eventlog.New(filepath.Join(dir, "events.jsonl"), nil)
	return New(b, jobs, sched, workers, events)
}

func seedAtomicTask(t *testing.T, c *Controller, taskID string) {
	t.Helper()
	task := &board.Task{
		TaskID:           taskID,
		Kind:             board.KindAtomic,
		Lane:             board.LaneMain,
		Status:           board.StatusReady,
		AllowedExecutors: []string{"noop"},
		Pins:             board.Pins{AllowedPaths: []string{"a.md"}},
	}
	if err := c.Board.Upsert(task); err != nil {
		t.Fatalf("seed task: %v", err)
	}
}

func TestEnqueueClaimComplete_HappyPathMarksDone(t *testing.T) {
	c := newController(t)
	seedAtomicTask(t, c, "t1")

	if _, err := c.Enqueue(EnqueueParams{TaskID: "t1", Executor: "noop", Priority: 500, TimeoutMS: 60000}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := c.Claim(context.Background(), "noop", nil, "w1", 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil {
		t.Fatalf("expected a claimed job")
	}

	outcome, err := c.Complete(CompleteParams{
		JobID:         job.JobID,
		WorkerID:      "w1",
		Submit:        jobstore.Submit{Status: "DONE", ChangedFiles: []string{"a.md"}, Tests: jobstore.TestsResult{Passed: true}},
		AttestationOK: true,
		Gate:          gate.Result{Verdict: gate.VerdictPass},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if outcome.TaskStatus != board.StatusDone {
		t.Fatalf("expected task done, got %s", outcome.TaskStatus)
	}

	task, _, err := c.Board.Get("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != board.StatusDone {
		t.Fatalf("expected board task done, got %s", task.Status)
	}
}

func TestComplete_AttestationMismatchFailsTask(t *testing.T) {
	c := newController(t)
	seedAtomicTask(t, c, "t1")
	if _, err := c.Enqueue(EnqueueParams{TaskID: "t1", Executor: "noop"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := c.Claim(context.Background(), "noop", nil, "w1", 0)
	if err != nil || job == nil {
		t.Fatalf("claim: %v %v", job, err)
	}

	outcome, err := c.Complete(CompleteParams{
		JobID:         job.JobID,
		WorkerID:      "w1",
		AttestationOK: false,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if outcome.TaskStatus != board.StatusFailed {
		t.Fatalf("expected task failed, got %s", outcome.TaskStatus)
	}
	if outcome.Job.FailureReason != "attestation_mismatch" {
		t.Fatalf("expected attestation_mismatch reason, got %q", outcome.Job.FailureReason)
	}
}

func TestComplete_RetryVerdictReenablesTaskAndIncrementsAttempts(t *testing.T) {
	c := newController(t)
	seedAtomicTask(t, c, "t1")
	if _, err := c.Enqueue(EnqueueParams{TaskID: "t1", Executor: "noop"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := c.Claim(context.Background(), "noop", nil, "w1", 0)
	if err != nil || job == nil {
		t.Fatalf("claim: %v %v", job, err)
	}

	outcome, err := c.Complete(CompleteParams{
		JobID:         job.JobID,
		WorkerID:      "w1",
		Submit:        jobstore.Submit{Status: "FAILED"},
		AttestationOK: true,
		Gate:          gate.Result{Verdict: gate.VerdictRetry, Reasons: []string{"stale_map"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if outcome.TaskStatus != board.StatusReady {
		t.Fatalf("expected task ready, got %s", outcome.TaskStatus)
	}
	if outcome.AttemptsAfter != 1 {
		t.Fatalf("expected attempts=1, got %d", outcome.AttemptsAfter)
	}
}

func TestReaperTick_WorkerDeathReturnsTaskToReady(t *testing.T) {
	c := newController(t)
	c.StaleWindow = 0 // force every running job to look stale immediately
	seedAtomicTask(t, c, "t1")
	if _, err := c.Enqueue(EnqueueParams{TaskID: "t1", Executor: "noop"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := c.Claim(context.Background(), "noop", nil, "w1", 0)
	if err != nil || job == nil {
		t.Fatalf("claim: %v %v", job, err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := c.ReaperTick(); err != nil {
		t.Fatalf("reaper tick: %v", err)
	}

	cancelled, _, err := c.Jobs.Get(job.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if cancelled.Status != jobstore.StatusCancelled || cancelled.FailureReason != "worker_dead" {
		t.Fatalf("expected job cancelled/worker_dead, got %s/%s", cancelled.Status, cancelled.FailureReason)
	}

	task, _, err := c.Board.Get("t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != board.StatusReady {
		t.Fatalf("expected task back to ready, got %s", task.Status)
	}
}

func TestReaperTick_ExhaustedRetriesFailsTask(t *testing.T) {
	c := newController(t)
	c.StaleWindow = 0
	c.MaxRetries = 0
	seedAtomicTask(t, c, "t1")
	if _, err := c.Enqueue(EnqueueParams{TaskID: "t1", Executor: "noop"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := c.Claim(context.Background(), "noop", nil, "w1", 0)
	if err != nil || job == nil {
		t.Fatalf("claim: %v %v", job, err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := c.ReaperTick(); err != nil {
		t.Fatalf("reaper tick: %v", err)
	}
	task, _, err := c.Board.Get("t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != board.StatusFailed {
		t.Fatalf("expected task failed once retries exhausted, got %s", task.Status)
	}
}

func TestCancel_PolicyBlockFailsTaskInsteadOfReady(t *testing.T) {
	c := newController(t)
	seedAtomicTask(t, c, "t1")
	if _, err := c.Enqueue(EnqueueParams{TaskID: "t1", Executor: "noop"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := c.Claim(context.Background(), "noop", nil, "w1", 0)
	if err != nil || job == nil {
		t.Fatalf("claim: %v %v", job, err)
	}
	if err := c.Cancel(job.JobID, "policy_block"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	task, _, err := c.Board.Get("t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != board.StatusFailed {
		t.Fatalf("expected task failed on policy_block cancel, got %s", task.Status)
	}
}
