package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/internal/domain/planning"
	"github.com/pmuci/pointage/pkg/apperr"
)

// Planner manages agency schedules. *planning.Planner satisfies it.
type Planner interface {
	Planned(ctx context.Context, agencyID string, r model.DateRange) ([]model.Assignment, error)
	Available(ctx context.Context, agencyID string, day time.Time, exclude string) ([]model.Employee, error)
	Add(ctx context.Context, agencyID, chefID, employeeID string, day time.Time) (model.Assignment, error)
	Remove(ctx context.Context, agencyID, assignmentID string) error
	Substitute(ctx context.Context, agencyID, assignmentID, replacementID string) (model.Assignment, error)
	CopyPrevious(ctx context.Context, agencyID, chefID string, period planning.Period, ref time.Time) (planning.CopyResult, error)
	Today(ctx context.Context, lg planning.Ledger, agencyID string, now time.Time, daySlots []model.Slot) (planning.Today, error)
}

type addAssignmentRequest struct {
	EmployeeID string `json:"employee_id"`
	Date       string `json:"date"`
}

type substituteRequest struct {
	ReplacementID string `json:"replacement_id"`
}

type copyRequest struct {
	Period string `json:"period"`
	// Ref is any day of the period to fill. Defaults to today.
	Ref string `json:"ref"`
}

// handleToday handles GET /agencies/{agency}/today.
func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Planner.Today(r.Context(), s.deps.Ledger, chi.URLParam(r, "agency"), s.now(), s.deps.Settings.Current().Slots)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAvailable handles GET /agencies/{agency}/available?date=&exclude=.
func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	day, err := s.dayParam(r, "date")
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	out, err := s.deps.Planner.Available(r.Context(), chi.URLParam(r, "agency"), day, r.URL.Query().Get("exclude"))
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListAssignments handles GET /agencies/{agency}/assignments?start=&end=.
// Both bounds default to today.
func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	start, err := s.dayParam(r, "start")
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	end, err := s.dayParam(r, "end")
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	out, err := s.deps.Planner.Planned(r.Context(), chi.URLParam(r, "agency"), model.NewDateRange(start, end))
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAddAssignment handles POST /agencies/{agency}/assignments.
func (s *Server) handleAddAssignment(w http.ResponseWriter, r *http.Request) {
	const op = "api.add_assignment"
	var req addAssignmentRequest
	if err := decode(r, op, &req); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	if req.EmployeeID == "" {
		s.fail(r.Context(), w, apperr.NewKind(op, model.ErrInvalidInput))
		return
	}
	day, err := model.ParseDay(req.Date)
	if err != nil {
		s.fail(r.Context(), w, apperr.Wrap(op, err))
		return
	}
	sc := sessionFrom(r.Context())
	a, err := s.deps.Planner.Add(r.Context(), chi.URLParam(r, "agency"), sc.Session.ChefID, req.EmployeeID, day)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// handleSubstitute handles PATCH /agencies/{agency}/assignments/{assignment}.
func (s *Server) handleSubstitute(w http.ResponseWriter, r *http.Request) {
	var req substituteRequest
	if err := decode(r, "api.substitute", &req); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	a, err := s.deps.Planner.Substitute(r.Context(), chi.URLParam(r, "agency"), chi.URLParam(r, "assignment"), req.ReplacementID)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleRemoveAssignment handles DELETE /agencies/{agency}/assignments/{assignment}.
func (s *Server) handleRemoveAssignment(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Planner.Remove(r.Context(), chi.URLParam(r, "agency"), chi.URLParam(r, "assignment")); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCopyPrevious handles POST /agencies/{agency}/assignments/copy.
func (s *Server) handleCopyPrevious(w http.ResponseWriter, r *http.Request) {
	const op = "api.copy_previous"
	var req copyRequest
	if err := decode(r, op, &req); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	period, err := planning.ParsePeriod(req.Period)
	if err != nil {
		s.fail(r.Context(), w, apperr.Wrap(op, err))
		return
	}
	ref := model.Day(s.now())
	if req.Ref != "" {
		if ref, err = model.ParseDay(req.Ref); err != nil {
			s.fail(r.Context(), w, apperr.Wrap(op, err))
			return
		}
	}
	sc := sessionFrom(r.Context())
	res, err := s.deps.Planner.CopyPrevious(r.Context(), chi.URLParam(r, "agency"), sc.Session.ChefID, period, ref)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
