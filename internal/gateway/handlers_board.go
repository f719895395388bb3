package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Micheleww/scc-gateway/internal/attestation"
	"github.com/Micheleww/scc-gateway/internal/board"
	"github.com/Micheleww/scc-gateway/internal/contextpack"
	"github.com/Micheleww/scc-gateway/internal/jobstore"
	"github.com/Micheleww/scc-gateway/internal/lifecycle"
)

// boardSnapshot is the GET /board response shape (§6.1).
type boardSnapshot struct {
	Tasks  []*board.Task  `json:"tasks"`
	Counts board.Counts   `json:"counts"`
}

func (s *Server) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	filter := board.Filter{}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		filter.Status = board.Status(v)
	}
	if v := q.Get("lane"); v != "" {
		filter.Lane = board.Lane(v)
	}
	if v := q.Get("kind"); v != "" {
		filter.Kind = board.Kind(v)
	}

	tasks, counts, err := s.deps.Board.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, boardSnapshot{Tasks: tasks, Counts: counts})
}

func (s *Server) handleSplitTask(w http.ResponseWriter, r *http.Request) {
	parentID := r.PathValue("id")
	var req SplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Children) == 0 {
		writeError(w, http.StatusBadRequest, "children must be non-empty")
		return
	}

	parent, ok, err := s.deps.Board.Get(parentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %s not found", parentID))
		return
	}
	if parent.Kind != board.KindParent {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("task %s is not a parent", parentID))
		return
	}

	for _, c := range req.Children {
		if c.TaskID == "" {
			writeError(w, http.StatusBadRequest, "every child requires a task_id")
			return
		}
		child := &board.Task{
			TaskID: c.TaskID,
			Kind:   board.KindAtomic,
			Title:  c.Title,
			Goal:   c.Goal,
			Role:   c.Role,
			Area:   c.Area,
			Lane:   board.Lane(c.Lane),
			Files:  c.Files,
			Pins:   board.Pins{AllowedPaths: c.AllowedPaths},
			AllowedTests:     c.AllowedTests,
			AllowedExecutors: c.AllowedExecutors,
			AllowedModels:    c.AllowedModels,
			Pointers:         board.Pointers{ParentID: parentID},
			Status:           board.StatusReady,
		}
		if err := s.deps.Board.Upsert(child); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("child %s: %v", c.TaskID, err))
			return
		}
	}

	if _, err := s.deps.Board.RecomputeParentStatus(parentID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	updated, _, err := s.deps.Board.Get(parentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDispatchTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var req DispatchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	task, ok, err := s.deps.Board.Get(taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %s not found", taskID))
		return
	}
	if task.Kind != board.KindAtomic {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("task %s is not atomic", taskID))
		return
	}

	allowed := task.EffectiveAllowedExecutors(s.deps.MissionDefaultExecutors)
	executor := req.Executor
	if executor == "" && len(allowed) > 0 {
		executor = allowed[0]
	}
	if executor == "" {
		writeError(w, http.StatusBadRequest, "no executor available: specify one or configure a mission default")
		return
	}
	if !containsString(allowed, executor) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("executor %q is not in task %s's allowed executors", executor, taskID))
		return
	}

	priority := board.ComputeJobPriorityForTask(task, req.PriorityOverride)
	timeout := req.TimeoutMS
	if timeout <= 0 {
		timeout = int(s.deps.Config.ExecutorTimeout(executor, 0) / 1000000) // ns -> ms
	}

	pack, err := s.buildDispatchPack(task, req.ReplayOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("build context pack: %v", err))
		return
	}

	job, err := s.deps.Life.Enqueue(lifecycle.EnqueueParams{
		TaskID:          taskID,
		Executor:        executor,
		Model:           req.Model,
		Prompt:          req.Prompt,
		Runner:          jobstore.Runner(task.Runner),
		Priority:        priority,
		TimeoutMS:       timeout,
		ReplayOf:        req.ReplayOf,
		ContextPackV1ID: pack.PackID,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// buildDispatchPack materializes the context pack an executor fetches
// (§4.E): task.json/pins.json/preflight.json, plus replay_bundle.json
// when the dispatch replays a prior verified job.
func (s *Server) buildDispatchPack(task *board.Task, replayOf string) (*contextpack.Pack, error) {
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	mapHash := readMapHash(s.deps.MapVersionPath)
	pinsJSON, err := json.Marshal(map[string]any{
		"schema_version": "scc.pins_request.v1",
		"allowed_paths":  task.Pins.AllowedPaths,
		"map_ref":        map[string]any{"hash": mapHash},
	})
	if err != nil {
		return nil, err
	}
	preflightJSON := s.readPriorPreflight(task.TaskID)
	if preflightJSON == nil {
		preflightJSON, err = json.Marshal(map[string]any{"schema_version": "scc.preflight.v1", "pass": true, "missing": []string{}})
		if err != nil {
			return nil, err
		}
	}

	var replayBundle []byte
	if replayOf != "" {
		replayBundle, err = json.Marshal(map[string]any{
			"schema_version": "scc.replay_bundle.v1",
			"task_id":        task.TaskID,
			"replay_of":      replayOf,
		})
		if err != nil {
			return nil, err
		}
	}

	return s.deps.Packs.Build(contextpack.BuildParams{
		TaskID:       task.TaskID,
		MapHash:      mapHash,
		PinsHash:     attestation.Sha256Hex(pinsJSON),
		Task:         taskJSON,
		Pins:         pinsJSON,
		Preflight:    preflightJSON,
		ReplayBundle: replayBundle,
	})
}

// readPriorPreflight reads artifacts/<taskId>/preflight.json, the prior
// preflight result an out-of-scope external validator writes ahead of
// dispatch (§4.E, §6.2). Returns nil when the artifact is genuinely
// absent or unreadable, so the caller can fall back to a pass-true
// placeholder.
func (s *Server) readPriorPreflight(taskID string) []byte {
	if s.deps.ArtifactsDir == "" {
		return nil
	}
	content, err := os.ReadFile(filepath.Join(s.deps.ArtifactsDir, taskID, "preflight.json"))
	if err != nil {
		return nil
	}
	return content
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
