package jobstore

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/Micheleww/scc-gateway/internal/statestore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(statestore.New(filepath.Join(dir, "jobs.json"), nil))
}

func TestEnqueue_RejectsSecondNonTerminalJobForSameTask(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Enqueue(NewJobParams{TaskID: "t1", Executor: "noop"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Enqueue(NewJobParams{TaskID: "t1", Executor: "noop"}); err == nil {
		t.Fatalf("expected rejection of second non-terminal job for same task")
	}
}

// TestClaim_SingleClaimAmongConcurrentCallers is P2: for N concurrent
// claim calls whose capability matches, exactly one returns the queued
// job.
func TestClaim_SingleClaimAmongConcurrentCallers(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Enqueue(NewJobParams{TaskID: "t1", Executor: "noop", Priority: 500}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	claims := make([]*Job, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			job, err := s.Claim("noop", nil, "worker", 0)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			claims[idx] = job
		}(i)
	}
	wg.Wait()

	found := 0
	for _, c := range claims {
		if c != nil {
			found++
		}
	}
	if found != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", found)
	}
}

func TestClaim_LanePriorityFastBeforeMain(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Enqueue(NewJobParams{TaskID: "main", Executor: "noop", Priority: 500}); err != nil {
		t.Fatalf("enqueue main: %v", err)
	}
	if _, err := s.Enqueue(NewJobParams{TaskID: "fast", Executor: "noop", Priority: 900}); err != nil {
		t.Fatalf("enqueue fast: %v", err)
	}
	job, err := s.Claim("noop", nil, "w1", 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.TaskID != "fast" {
		t.Fatalf("expected fastlane job claimed first, got %+v", job)
	}
}

func TestClaim_RespectsConcurrencyCap(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Enqueue(NewJobParams{TaskID: "t1", Executor: "noop"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Enqueue(NewJobParams{TaskID: "t2", Executor: "noop"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	first, err := s.Claim("noop", nil, "w1", 1)
	if err != nil || first == nil {
		t.Fatalf("expected first claim to succeed: %v", err)
	}
	second, err := s.Claim("noop", nil, "w2", 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if second != nil {
		t.Fatalf("expected cap to block second claim, got %+v", second)
	}
}

func TestComplete_RejectsMismatchedWorker(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Enqueue(NewJobParams{TaskID: "t1", Executor: "noop"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := s.Claim("noop", nil, "w1", 0)
	if err != nil || job == nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = s.Complete(job.JobID, "wrong-worker", Submit{Status: "DONE"}, StatusSucceeded, "", 0, "", "")
	if err == nil {
		t.Fatalf("expected worker-id mismatch to be rejected")
	}
}

func TestCancel_ThenReenqueueAllowsFreshJob(t *testing.T) {
	s := newTestStore(t)
	job, err := s.Enqueue(NewJobParams{TaskID: "t1", Executor: "noop"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Cancel(job.JobID, "worker_dead"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := s.Enqueue(NewJobParams{TaskID: "t1", Executor: "noop"}); err != nil {
		t.Fatalf("expected re-enqueue after cancel to succeed: %v", err)
	}
}
