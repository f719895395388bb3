package worker

import (
	"testing"
	"time"
)

func TestRegister_SameNameResumesInPlace(t *testing.T) {
	r := New(120*time.Second, 60*time.Second)
	id1 := r.Register("w1", []string{"noop"}, nil)
	id2 := r.Register("w1", []string{"noop", "claude"}, nil)
	if id1 != id2 {
		t.Fatalf("expected re-register under same name to resume same id, got %s vs %s", id1, id2)
	}
	w, ok := r.Get(id1)
	if !ok {
		t.Fatalf("expected worker present")
	}
	if len(w.Executors) != 2 {
		t.Fatalf("expected capability refresh, got %v", w.Executors)
	}
}

func TestListActive_FiltersByExecutorAndLiveness(t *testing.T) {
	r := New(50*time.Millisecond, 60*time.Second)
	id := r.Register("w1", []string{"noop"}, nil)
	if active := r.ListActive("noop"); len(active) != 1 {
		t.Fatalf("expected 1 active worker, got %d", len(active))
	}
	if active := r.ListActive("claude"); len(active) != 0 {
		t.Fatalf("expected 0 workers advertising claude, got %d", len(active))
	}
	time.Sleep(80 * time.Millisecond)
	if active := r.ListActive("noop"); len(active) != 0 {
		t.Fatalf("expected worker to fall out of liveness window, got %d", len(active))
	}
	_ = id
}

func TestStaleClaims_DetectsAbandonedRunningJob(t *testing.T) {
	r := New(time.Hour, 30*time.Millisecond)
	id := r.Register("w1", []string{"noop"}, nil)
	r.Heartbeat(id, "job-1")
	if stale := r.StaleClaims(); len(stale) != 0 {
		t.Fatalf("expected no stale claims immediately after heartbeat")
	}
	time.Sleep(60 * time.Millisecond)
	stale := r.StaleClaims()
	if len(stale) != 1 || stale[0].RunningJobID != "job-1" {
		t.Fatalf("expected job-1 flagged stale, got %+v", stale)
	}
	r.ClearRunningJob(id)
	w, _ := r.Get(id)
	if w.RunningJobID != "" {
		t.Fatalf("expected running job cleared, got %q", w.RunningJobID)
	}
}
