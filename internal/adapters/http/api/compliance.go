package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pmuci/pointage/internal/adapters/export"
	"github.com/pmuci/pointage/internal/domain/compliance"
	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/pkg/apperr"
)

// ComplianceReporter builds the supervisory dashboard. *compliance.Reporter satisfies it.
type ComplianceReporter interface {
	Build(ctx context.Context, r model.DateRange, f compliance.Filter) (compliance.Summary, error)
}

// maxComplianceDays bounds the range a single report may cover.
const maxComplianceDays = 366

// complianceQuery reads start, end, agency and chef. The range defaults to
// the first of the current month through today.
func (s *Server) complianceQuery(r *http.Request) (model.DateRange, compliance.Filter, error) {
	const op = "api.compliance_query"
	q := r.URL.Query()
	today := model.Day(s.now())
	start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := today

	var err error
	if v := q.Get("start"); v != "" {
		if start, err = model.ParseDay(v); err != nil {
			return model.DateRange{}, compliance.Filter{}, apperr.Wrap(op, err)
		}
	}
	if v := q.Get("end"); v != "" {
		if end, err = model.ParseDay(v); err != nil {
			return model.DateRange{}, compliance.Filter{}, apperr.Wrap(op, err)
		}
	}
	if end.Before(start) {
		return model.DateRange{}, compliance.Filter{}, apperr.WrapKind(op, model.ErrInvalidInput,
			fmt.Errorf("end %s before start %s", end.Format(model.DateLayout), start.Format(model.DateLayout)))
	}
	rng := model.NewDateRange(start, end)
	if n := rng.Len(); n > maxComplianceDays {
		return model.DateRange{}, compliance.Filter{}, apperr.WrapKind(op, model.ErrInvalidInput,
			fmt.Errorf("range covers %d days, at most %d allowed", n, maxComplianceDays))
	}
	return rng, compliance.Filter{Agency: q.Get("agency"), Chef: q.Get("chef")}, nil
}

// handleCompliance handles GET /compliance.
func (s *Server) handleCompliance(w http.ResponseWriter, r *http.Request) {
	rng, f, err := s.complianceQuery(r)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	sum, err := s.deps.Compliance.Build(r.Context(), rng, f)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleComplianceXLSX handles GET /compliance.xlsx.
func (s *Server) handleComplianceXLSX(w http.ResponseWriter, r *http.Request) {
	rng, f, err := s.complianceQuery(r)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	sum, err := s.deps.Compliance.Build(r.Context(), rng, f)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	raw, err := export.ComplianceWorkbook(sum)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	name := fmt.Sprintf("conformite_%s_%s.xlsx", rng.Start.Format(model.DateLayout), rng.End.Format(model.DateLayout))
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
