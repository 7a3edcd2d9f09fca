package api

import "net/http"

// StatsProvider reports runtime counters for GET /stats.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves the workflow's runtime counters.
type StatsHandler struct {
	statsProvider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(statsProvider StatsProvider) *StatsHandler {
	return &StatsHandler{statsProvider: statsProvider}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	if h.statsProvider == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.statsProvider.GetStats())
}
