package api

import (
	"context"
	"net/http"

	"github.com/pmuci/pointage/internal/config"
	"github.com/pmuci/pointage/internal/domain/model"
)

// SettingsStore holds the effective application settings.
type SettingsStore interface {
	Current() model.Settings
	Update(ctx context.Context, g config.General) (model.Settings, error)
}

// handleGetSettings handles GET /settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, config.GeneralOf(s.deps.Settings.Current()))
}

// handlePutSettings handles PUT /settings.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var g config.General
	if err := decode(r, "api.put_settings", &g); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	updated, err := s.deps.Settings.Update(r.Context(), g)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, config.GeneralOf(updated))
}
