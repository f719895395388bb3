package gateway

import (
	"net/http"
	"strconv"
)

// handleEvents serves GET /events (§6.1, §4.J): a bounded tail of the
// global event log.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	events, err := s.deps.Events.Tail(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
