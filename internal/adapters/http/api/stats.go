package api

import (
	"net/http"
)

// StatsProvider defines the interface for getting service statistics.
type StatsProvider interface {
	GetStats() map[string]any
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{}
	if s.deps.Stats != nil {
		stats = s.deps.Stats.GetStats()
	}
	writeJSON(w, http.StatusOK, stats)
}
