package api

import (
	"net/http"
	"strconv"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/pkg/apperr"
)

const defaultFeedLimit = 20

// Feed serves recent notifications. *notify.Feed satisfies it.
type Feed interface {
	Recent(limit int, agencyID string) []model.Notification
}

// handleNotifications handles GET /notifications?limit=&agency=.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultFeedLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.fail(r.Context(), w, apperr.NewKind("api.notifications", model.ErrInvalidInput))
			return
		}
		limit = n
	}
	out := []model.Notification{}
	if s.deps.Feed != nil {
		out = s.deps.Feed.Recent(limit, r.URL.Query().Get("agency"))
	}
	writeJSON(w, http.StatusOK, out)
}
