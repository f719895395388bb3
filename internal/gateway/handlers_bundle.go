package gateway

import (
	"fmt"
	"net/http"
)

// handleBundleFile serves GET /bundle/:packId/:file?format=raw (§6.1): raw
// bytes are the hashable form a worker attests against; any other format
// value returns the base64-wrapped variant.
func (s *Server) handleBundleFile(w http.ResponseWriter, r *http.Request) {
	packID := r.PathValue("packId")
	file := r.PathValue("file")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "raw"
	}

	raw, wrapped, contentType, err := s.deps.Packs.FetchBundleFile(packID, file, format)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("bundle file %s/%s: %v", packID, file, err))
		return
	}
	if format == "raw" {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
		return
	}
	writeJSON(w, http.StatusOK, wrapped)
}
