package httpapi

import "net/http"

// handlePerfLatency serves the rolling-window stage latency snapshot.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondError(w, http.StatusServiceUnavailable, "metrics_disabled", "metrics are not configured")
		return
	}
	if r.URL.Query().Get("reset") == "1" {
		s.metrics.ResetStages()
	}
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}
