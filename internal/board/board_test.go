package board

import (
	"path/filepath"
	"testing"

	"github.com/Micheleww/scc-gateway/internal/statestore"
)

func newTestBoard(t *testing.T) *Board {
	t.Helper()
	dir := t.TempDir()
	return New(statestore.New(filepath.Join(dir, "board.json"), nil))
}

func TestUpsertAndGet(t *testing.T) {
	b := newTestBoard(t)
	task := &Task{
		TaskID: "t1",
		Kind:   KindAtomic,
		Status: StatusBacklog,
		Files:  []string{"a.md"},
		Pins:   Pins{AllowedPaths: []string{"a.md"}},
	}
	if err := b.Upsert(task); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, ok, err := b.Get("t1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Lane != DefaultLane {
		t.Fatalf("expected default lane applied, got %q", got.Lane)
	}
}

func TestUpsert_RejectsAbsolutePath(t *testing.T) {
	b := newTestBoard(t)
	task := &Task{TaskID: "t1", Kind: KindAtomic, Files: []string{"/etc/passwd"}}
	if err := b.Upsert(task); err == nil {
		t.Fatalf("expected rejection of absolute path")
	}
}

func TestTransition_IllegalArrowRejected(t *testing.T) {
	b := newTestBoard(t)
	task := &Task{TaskID: "t1", Kind: KindAtomic, Status: StatusBacklog}
	if err := b.Upsert(task); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := b.Transition("t1", StatusDone); err == nil {
		t.Fatalf("expected illegal transition backlog->done to be rejected")
	}
	if _, err := b.Transition("t1", StatusReady); err != nil {
		t.Fatalf("expected backlog->ready to succeed: %v", err)
	}
}

func TestTransition_ParentNeverGoesDirectlyToInProgress(t *testing.T) {
	b := newTestBoard(t)
	parent := &Task{TaskID: "p1", Kind: KindParent, Status: StatusReady}
	if err := b.Upsert(parent); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := b.Transition("p1", StatusInProgress); err == nil {
		t.Fatalf("expected parent direct transition to in_progress to be rejected")
	}
}

func TestRecomputeParentStatus(t *testing.T) {
	b := newTestBoard(t)
	parent := &Task{TaskID: "p1", Kind: KindParent, Status: StatusInProgress}
	if err := b.Upsert(parent); err != nil {
		t.Fatalf("upsert parent: %v", err)
	}
	c1 := &Task{TaskID: "c1", Kind: KindAtomic, Status: StatusDone, Pointers: Pointers{ParentID: "p1"}}
	c2 := &Task{TaskID: "c2", Kind: KindAtomic, Status: StatusFailed, Pointers: Pointers{ParentID: "p1"}}
	if err := b.Upsert(c1); err != nil {
		t.Fatalf("upsert c1: %v", err)
	}
	if err := b.Upsert(c2); err != nil {
		t.Fatalf("upsert c2: %v", err)
	}
	got, err := b.RecomputeParentStatus("p1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if got != StatusFailed {
		t.Fatalf("expected failed (one child failed, none need_input), got %s", got)
	}
}

func TestComputeJobPriorityForTask(t *testing.T) {
	fast := &Task{Lane: LaneFast}
	if got := ComputeJobPriorityForTask(fast, nil); got < FastlaneBase {
		t.Fatalf("expected fastlane priority >= %d, got %d", FastlaneBase, got)
	}
	override := 42
	if got := ComputeJobPriorityForTask(fast, &override); got != 42 {
		t.Fatalf("expected override to replace lane default, got %d", got)
	}
}

func TestEffectiveAllowedExecutors_EmptyInheritsDefault(t *testing.T) {
	task := &Task{}
	got := task.EffectiveAllowedExecutors([]string{"noop", "claude"})
	if len(got) != 2 {
		t.Fatalf("expected inherited mission default, got %v", got)
	}
}
