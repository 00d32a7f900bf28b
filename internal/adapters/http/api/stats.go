package api

import "net/http"

// StatsHandler exposes service statistics for monitoring.
type StatsHandler struct {
	deps Dependencies
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(deps Dependencies) *StatsHandler {
	return &StatsHandler{deps: deps}
}

// HandleStats handles GET /stats.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Stats(r.Context()))
}
