package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pmuci/pointage/internal/domain/ledger"
	"github.com/pmuci/pointage/internal/domain/model"
)

// Ledger reports recorded attendance. *ledger.Query satisfies it.
type Ledger interface {
	AttendanceFor(ctx context.Context, matricules []string, day time.Time) (map[string][]ledger.Entry, error)
}

// dayParam parses the named query parameter, defaulting to today.
func (s *Server) dayParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return model.Day(s.now()), nil
	}
	return model.ParseDay(raw)
}

// handleAttendance handles GET /attendance?date=&matricule=. Matricules may
// repeat or be comma separated.
func (s *Server) handleAttendance(w http.ResponseWriter, r *http.Request) {
	day, err := s.dayParam(r, "date")
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	var matricules []string
	for _, v := range r.URL.Query()["matricule"] {
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				matricules = append(matricules, m)
			}
		}
	}
	out, err := s.deps.Ledger.AttendanceFor(r.Context(), matricules, day)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
