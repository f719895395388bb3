package board

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Micheleww/scc-gateway/internal/statestore"
)

// boardDoc is the on-disk shape of state/board.json.
type boardDoc struct {
	Tasks map[string]*Task `json:"tasks"`
}

// Board is the durable source of truth for tasks (§4.B). Every read and
// mutation goes through the backing statestore.Store, whose per-file lock
// serializes them; the task map is the UpdateSerial target, so every
// mutation is durably persisted before the call returns. The mu field is
// not used by any method.
type Board struct {
	store *statestore.Store

	mu sync.RWMutex
}

// New creates a Board backed by the given state-store file.
func New(store *statestore.Store) *Board {
	return &Board{store: store}
}

// Filter narrows List results. Zero-value fields are not applied.
type Filter struct {
	Status Status
	Lane   Lane
	Kind   Kind
}

func (f Filter) matches(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Lane != "" && t.Lane != f.Lane {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	return true
}

// Counts summarizes task statuses for the /board snapshot.
type Counts map[Status]int

// List returns tasks matching filter, plus status counts over the
// unfiltered set.
func (b *Board) List(filter Filter) ([]*Task, Counts, error) {
	var doc boardDoc
	if err := b.readDoc(&doc); err != nil {
		return nil, nil, err
	}

	counts := Counts{}
	out := make([]*Task, 0, len(doc.Tasks))
	for _, t := range doc.Tasks {
		counts[t.Status]++
		if filter.matches(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, counts, nil
}

// Get returns a copy of the task with the given id.
func (b *Board) Get(id string) (*Task, bool, error) {
	var doc boardDoc
	if err := b.readDoc(&doc); err != nil {
		return nil, false, err
	}
	t, ok := doc.Tasks[id]
	if !ok {
		return nil, false, nil
	}
	cp := *t
	return &cp, true, nil
}

// Upsert validates and persists payload, setting CreatedAt on first
// insert and always refreshing UpdatedAt.
func (b *Board) Upsert(payload *Task) error {
	if err := payload.Validate(); err != nil {
		return err
	}

	var doc boardDoc
	return b.store.UpdateSerial(&doc, func() error {
		if doc.Tasks == nil {
			doc.Tasks = map[string]*Task{}
		}
		now := time.Now().UTC()
		cp := *payload
		if existing, ok := doc.Tasks[payload.TaskID]; ok {
			cp.CreatedAt = existing.CreatedAt
		} else {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		doc.Tasks[payload.TaskID] = &cp
		return nil
	})
}

// allowedTransitions enumerates the arrows §4.B permits, keyed by
// from-status, valued by the set of legal to-statuses.
var allowedTransitions = map[Status]map[Status]bool{
	StatusBacklog:    {StatusReady: true, StatusCancelled: true},
	StatusReady:      {StatusDispatched: true, StatusCancelled: true},
	StatusDispatched: {StatusInProgress: true, StatusCancelled: true},
	StatusInProgress: {
		StatusDone:      true,
		StatusFailed:    true,
		StatusNeedInput: true,
		StatusCancelled: true,
	},
	StatusNeedInput: {StatusReady: true, StatusCancelled: true},
	StatusFailed:    {StatusReady: true},
	StatusNeedsSplit: {StatusReady: true, StatusCancelled: true},
}

// CanTransition reports whether from -> to is a legal arrow.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	arrows, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return arrows[to]
}

// Transition moves the task to newStatus, rejecting illegal arrows
// (ClientInvalid, §7). Dispatch (ready -> dispatched) is only legal for
// atomic tasks, per §3 invariant (i): a parent never transitions to
// in_progress/done directly.
func (b *Board) Transition(id string, newStatus Status) (*Task, error) {
	var doc boardDoc
	var result *Task
	err := b.store.UpdateSerial(&doc, func() error {
		t, ok := doc.Tasks[id]
		if !ok {
			return fmt.Errorf("task %s not found", id)
		}
		if t.Kind == KindParent && (newStatus == StatusDispatched || newStatus == StatusInProgress || newStatus == StatusDone) {
			return fmt.Errorf("task %s: parent tasks never transition directly to %s", id, newStatus)
		}
		if !CanTransition(t.Status, newStatus) {
			return fmt.Errorf("task %s: illegal transition %s -> %s", id, t.Status, newStatus)
		}
		t.Status = newStatus
		t.UpdatedAt = time.Now().UTC()
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *result
	return &cp, nil
}

// SetPriority updates a task's priority override.
func (b *Board) SetPriority(id string, prio int) error {
	var doc boardDoc
	return b.store.UpdateSerial(&doc, func() error {
		t, ok := doc.Tasks[id]
		if !ok {
			return fmt.Errorf("task %s not found", id)
		}
		t.PriorityOverride = &prio
		t.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// IncrementAttempts bumps a task's retry counter, used by the lifecycle
// controller when a RETRY verdict re-enqueues a fresh job (§4.G).
func (b *Board) IncrementAttempts(id string) (int, error) {
	var doc boardDoc
	var attempts int
	err := b.store.UpdateSerial(&doc, func() error {
		t, ok := doc.Tasks[id]
		if !ok {
			return fmt.Errorf("task %s not found", id)
		}
		t.Attempts++
		t.UpdatedAt = time.Now().UTC()
		attempts = t.Attempts
		return nil
	})
	return attempts, err
}

// Children returns all atomic tasks whose Pointers.ParentID is parentID.
func (b *Board) Children(parentID string) ([]*Task, error) {
	var doc boardDoc
	if err := b.readDoc(&doc); err != nil {
		return nil, err
	}
	var out []*Task
	for _, t := range doc.Tasks {
		if t.Pointers.ParentID == parentID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

// RecomputeParentStatus derives and persists a parent's status from its
// children (§4.B): done iff all children done; failed iff any child
// failed and none is in need_input; otherwise in_progress.
func (b *Board) RecomputeParentStatus(parentID string) (Status, error) {
	var doc boardDoc
	var derived Status
	err := b.store.UpdateSerial(&doc, func() error {
		parent, ok := doc.Tasks[parentID]
		if !ok {
			return fmt.Errorf("parent task %s not found", parentID)
		}
		if parent.Kind != KindParent {
			return fmt.Errorf("task %s is not a parent", parentID)
		}

		var children []*Task
		for _, t := range doc.Tasks {
			if t.Pointers.ParentID == parentID {
				children = append(children, t)
			}
		}
		derived = deriveParentStatus(children)
		parent.Status = derived
		parent.UpdatedAt = time.Now().UTC()
		return nil
	})
	return derived, err
}

func deriveParentStatus(children []*Task) Status {
	if len(children) == 0 {
		return StatusInProgress
	}
	allDone := true
	anyFailed := false
	anyNeedInput := false
	for _, c := range children {
		if c.Status != StatusDone {
			allDone = false
		}
		if c.Status == StatusFailed {
			anyFailed = true
		}
		if c.Status == StatusNeedInput {
			anyNeedInput = true
		}
	}
	if allDone {
		return StatusDone
	}
	if anyFailed && !anyNeedInput {
		return StatusFailed
	}
	return StatusInProgress
}

func (b *Board) readDoc(doc *boardDoc) error {
	if err := b.store.Read(doc); err != nil {
		return err
	}
	if doc.Tasks == nil {
		doc.Tasks = map[string]*Task{}
	}
	return nil
}
