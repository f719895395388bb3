package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Micheleww/scc-gateway/internal/jobstore"
	"github.com/Micheleww/scc-gateway/internal/statestore"
)

func newTestScheduler(t *testing.T) (*Scheduler, *jobstore.Store) {
	t.Helper()
	dir := t.TempDir()
	js := jobstore.New(statestore.New(filepath.Join(dir, "jobs.json"), nil))
	return New(js, nil), js
}

func TestClaim_ReturnsImmediatelyWhenJobQueued(t *testing.T) {
	sched, js := newTestScheduler(t)
	if _, err := js.Enqueue(jobstore.NewJobParams{TaskID: "t1", Executor: "noop"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := sched.Claim(context.Background(), "noop", nil, "w1", 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil {
		t.Fatalf("expected immediate claim")
	}
}

func TestClaim_NoJobReturnsNilAfterDeadline(t *testing.T) {
	sched, _ := newTestScheduler(t)
	start := time.Now()
	job, err := sched.Claim(context.Background(), "noop", nil, "w1", 30)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job != nil {
		t.Fatalf("expected no job available")
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Fatalf("expected claim to wait close to the deadline")
	}
}

func TestClaim_WakesOnEnqueueDuringWait(t *testing.T) {
	sched, js := newTestScheduler(t)

	claimed := make(chan *jobstore.Job, 1)
	go func() {
		job, err := sched.Claim(context.Background(), "noop", nil, "w1", 2000)
		if err != nil {
			t.Errorf("claim: %v", err)
			return
		}
		claimed <- job
	}()

	time.Sleep(30 * time.Millisecond)
	if _, err := js.Enqueue(jobstore.NewJobParams{TaskID: "t1", Executor: "noop"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	sched.Wake("noop")

	select {
	case job := <-claimed:
		if job == nil {
			t.Fatalf("expected job to be claimed after wake")
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("claim did not wake within deadline")
	}
}
