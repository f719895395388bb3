// Package board implements the durable task board (§4.B): the set of
// parent and atomic tasks, their status transitions, and lane/priority
// computation. It is backed by a single state-store file, whose lock
// serializes every read and update of the task map.
package board

import (
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes a parent task (awaiting split) from an atomic task
// (dispatchable in one job).
type Kind string

const (
	KindParent Kind = "parent"
	KindAtomic Kind = "atomic"
)

// Status is a task's lifecycle state (§3).
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusNeedsSplit Status = "needs_split"
	StatusReady      Status = "ready"
	StatusDispatched Status = "dispatched"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusNeedInput  Status = "need_input"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Lane is a coarse priority class.
type Lane string

const (
	LaneFast  Lane = "fastlane"
	LaneMain  Lane = "mainlane"
	LaneBatch Lane = "batchlane"
)

// DefaultLane is used whenever a task omits one.
const DefaultLane = LaneMain

var validLanes = map[Lane]bool{LaneFast: true, LaneMain: true, LaneBatch: true}

// ValidLane reports whether lane is one of the fixed, recognized lanes.
func ValidLane(lane Lane) bool {
	return validLanes[lane]
}

// Pins describes the allowed read/write scope for a task.
type Pins struct {
	AllowedPaths []string `json:"allowed_paths"`
}

// Pointers links an atomic task back to its parent.
type Pointers struct {
	ParentID string `json:"parent_id,omitempty"`
}

// Runner selects where a job actually executes.
type Runner string

const (
	RunnerInternal Runner = "internal"
	RunnerExternal Runner = "external"
)

// Task is the board's unit entity (§3). Fields are repo-relative POSIX
// paths where noted; absolute paths are rejected at write (Validate).
type Task struct {
	TaskID string `json:"task_id"`
	Kind   Kind   `json:"kind"`

	Title string `json:"title"`
	Goal  string `json:"goal"`
	Role  string `json:"role"`
	Area  string `json:"area"`

	Lane         Lane   `json:"lane"`
	TaskClassID  string `json:"task_class_id,omitempty"`
	Files        []string `json:"files,omitempty"`
	Pins         Pins     `json:"pins"`
	AllowedTests []string `json:"allowedTests,omitempty"`

	AllowedExecutors []string `json:"allowedExecutors,omitempty"`
	AllowedModels    []string `json:"allowedModels,omitempty"`
	Runner           Runner   `json:"runner"`

	Pointers Pointers `json:"pointers,omitempty"`
	Status   Status   `json:"status"`

	// PriorityOverride replaces the lane default when non-nil (§4.B).
	PriorityOverride *int `json:"priorityOverride,omitempty"`

	// Attempts counts RETRY-driven re-dispatches (§4.G complete, §8 P5).
	Attempts int `json:"attempts"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate enforces the repo-relative-POSIX invariant (§3.iii) over Files
// and Pins.AllowedPaths, and rejects unknown lanes.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.TaskID) == "" {
		return fmt.Errorf("task_id is required")
	}
	if t.Kind != KindParent && t.Kind != KindAtomic {
		return fmt.Errorf("task %s: kind must be parent or atomic", t.TaskID)
	}
	if t.Lane == "" {
		t.Lane = DefaultLane
	}
	if !ValidLane(t.Lane) {
		return fmt.Errorf("task %s: unknown lane %q", t.TaskID, t.Lane)
	}
	if t.Runner == "" {
		t.Runner = RunnerExternal
	}
	if t.Runner != RunnerInternal && t.Runner != RunnerExternal {
		return fmt.Errorf("task %s: runner must be internal or external", t.TaskID)
	}
	for _, f := range t.Files {
		if err := validateRelativePath(f); err != nil {
			return fmt.Errorf("task %s: files: %w", t.TaskID, err)
		}
	}
	for _, p := range t.Pins.AllowedPaths {
		if err := validateRelativePath(p); err != nil {
			return fmt.Errorf("task %s: pins.allowed_paths: %w", t.TaskID, err)
		}
	}
	return nil
}

func validateRelativePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("path %q must be repo-relative, not absolute", p)
	}
	if strings.Contains(p, "\\") {
		return fmt.Errorf("path %q must be POSIX-style (no backslashes)", p)
	}
	if strings.Contains(p, "..") {
		return fmt.Errorf("path %q must not contain ..", p)
	}
	return nil
}

// EffectiveAllowedExecutors returns t.AllowedExecutors, or missionDefault
// when t.AllowedExecutors is empty. An empty list inherits the
// mission-wide default rather than denying all executors (§3.ii, §9).
func (t *Task) EffectiveAllowedExecutors(missionDefault []string) []string {
	if len(t.AllowedExecutors) > 0 {
		return t.AllowedExecutors
	}
	return missionDefault
}

// IsTerminal reports whether status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
