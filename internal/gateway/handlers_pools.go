package gateway

import (
	"net/http"

	"github.com/Micheleww/scc-gateway/internal/jobstore"
)

// poolsSnapshot is the GET /pools response (§6.1): aggregated counts plus
// advisory autoscaler hints surfaced read-only for an external
// autoscaler to consult.
type poolsSnapshot struct {
	JobsByStatus    map[jobstore.Status]int `json:"jobsByStatus"`
	RunningExternal int                     `json:"runningExternal"`
	Executors       map[string]executorPool `json:"executors"`
}

type executorPool struct {
	Running         int `json:"running"`
	ConcurrencyCap  int `json:"concurrencyCap"`
	MaxSpawnPerTick int `json:"maxSpawnPerTick,omitempty"`
	MaxPrunePerTick int `json:"maxPrunePerTick,omitempty"`
}

func (s *Server) handleGetPools(w http.ResponseWriter, r *http.Request) {
	statuses := []jobstore.Status{jobstore.StatusQueued, jobstore.StatusRunning, jobstore.StatusSucceeded, jobstore.StatusFailed, jobstore.StatusCancelled}
	byStatus := map[jobstore.Status]int{}
	for _, st := range statuses {
		jobs, err := s.deps.Jobs.GetByStatus(st)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		byStatus[st] = len(jobs)
	}

	runningExternal, err := s.deps.Jobs.ListRunningExternal()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	executors := map[string]executorPool{}
	for exec, concurrencyCap := range s.deps.Config.ExecConcurrency {
		running, err := s.deps.Jobs.CountRunning(exec)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		executors[exec] = executorPool{
			Running:         running,
			ConcurrencyCap:  concurrencyCap,
			MaxSpawnPerTick: s.deps.Config.MaxSpawnPerTick[exec],
			MaxPrunePerTick: s.deps.Config.MaxPrunePerTick[exec],
		}
	}

	writeJSON(w, http.StatusOK, poolsSnapshot{
		JobsByStatus:    byStatus,
		RunningExternal: len(runningExternal),
		Executors:       executors,
	})
}
