package api

import (
	"net/http"
)

// StatsProvider reports a snapshot of runtime counters keyed by name.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves GET /stats.
type StatsHandler struct {
	stats StatsProvider
}

func NewStatsHandler(p StatsProvider) *StatsHandler {
	return &StatsHandler{stats: p}
}

// HandleStats writes the provider snapshot. Snapshots change every tick so
// clients must not cache them.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.stats.GetStats()
	if snapshot == nil {
		snapshot = map[string]interface{}{}
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, snapshot)
}
