// Package planning manages the daily schedule of an agency: who is planned
// on which day, substitutions, and copying a previous period forward.
package planning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/pkg/apperr"
	"github.com/pmuci/pointage/pkg/logger"
	"github.com/pmuci/pointage/pkg/metrics"
)

var tracer = otel.Tracer("pointage/planning")

// Store is the persistence the planner works on. InsertAssignment must
// reject a second (date, agency, employee) with model.ErrDuplicateAssignment.
type Store interface {
	Employees(ctx context.Context, agencyID string) ([]model.Employee, error)
	Assignment(ctx context.Context, id string) (model.Assignment, error)
	Assignments(ctx context.Context, agencyID string, r model.DateRange) ([]model.Assignment, error)
	InsertAssignment(ctx context.Context, a model.Assignment) (model.Assignment, error)
	UpdateAssignment(ctx context.Context, id string, p model.AssignmentPatch) (model.Assignment, error)
	DeleteAssignment(ctx context.Context, id string) error
}

// Planner applies planning changes for one agency at a time.
type Planner struct {
	store Store
	log   logger.Logger
}

// New creates a Planner over store.
func New(store Store, log logger.Logger) *Planner {
	if log == nil {
		log = logger.Get().Named("planning")
	}
	return &Planner{store: store, log: log}
}

// Planned lists the agency's assignments over r ordered by date then employee.
func (p *Planner) Planned(ctx context.Context, agencyID string, r model.DateRange) ([]model.Assignment, error) {
	out, err := p.store.Assignments(ctx, agencyID, r)
	if err != nil {
		return nil, apperr.WrapKind("planning.Planned", model.ErrLedgerUnavailable, err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out, nil
}

// Available lists the agency's employees that can be planned on day: not
// absent or suspended then, not already planned that day, and not exclude.
func (p *Planner) Available(ctx context.Context, agencyID string, day time.Time, exclude string) ([]model.Employee, error) {
	const op = "planning.Available"
	day = model.Day(day)

	staff, err := p.store.Employees(ctx, agencyID)
	if err != nil {
		return nil, apperr.WrapKind(op, model.ErrLedgerUnavailable, err)
	}
	planned, err := p.store.Assignments(ctx, agencyID, model.NewDateRange(day, day))
	if err != nil {
		return nil, apperr.WrapKind(op, model.ErrLedgerUnavailable, err)
	}
	taken := make(map[string]bool, len(planned))
	for _, a := range planned {
		taken[a.EmployeeID] = true
	}

	out := make([]model.Employee, 0, len(staff))
	for _, e := range staff {
		if e.ID == exclude || taken[e.ID] || !e.AvailableOn(day) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName() < out[j].FullName() })
	return out, nil
}

// Add plans employeeID at agencyID on day.
func (p *Planner) Add(ctx context.Context, agencyID, chefID, employeeID string, day time.Time) (model.Assignment, error) {
	const op = "planning.Add"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("agency", agencyID), attribute.String("employee", employeeID))

	day = model.Day(day)
	if err := p.checkCandidate(ctx, agencyID, employeeID, day); err != nil {
		metrics.RecordPlanningWrite("add", outcome(err))
		return model.Assignment{}, apperr.Wrap(op, err)
	}

	a, err := p.store.InsertAssignment(ctx, model.Assignment{
		Date:       day,
		AgencyID:   agencyID,
		EmployeeID: employeeID,
		ChefID:     chefID,
	})
	if err != nil {
		err = storeErr(op, err)
		metrics.RecordPlanningWrite("add", outcome(err))
		return model.Assignment{}, err
	}
	metrics.RecordPlanningWrite("add", "ok")
	p.log.Info(ctx, "employee planned",
		logger.String("agency_id", agencyID),
		logger.String("employee_id", employeeID),
		logger.String("date", day.Format(model.DateLayout)),
	)
	return a, nil
}

// Remove deletes an assignment of agencyID.
func (p *Planner) Remove(ctx context.Context, agencyID, assignmentID string) error {
	const op = "planning.Remove"
	if _, err := p.owned(ctx, agencyID, assignmentID); err != nil {
		metrics.RecordPlanningWrite("remove", outcome(err))
		return apperr.Wrap(op, err)
	}
	if err := p.store.DeleteAssignment(ctx, assignmentID); err != nil {
		err = storeErr(op, err)
		metrics.RecordPlanningWrite("remove", outcome(err))
		return err
	}
	metrics.RecordPlanningWrite("remove", "ok")
	p.log.Info(ctx, "assignment removed", logger.String("agency_id", agencyID), logger.String("id", assignmentID))
	return nil
}

// Substitute hands an assignment to replacementID, remembering who was
// replaced. The replacement must be free and available that day.
func (p *Planner) Substitute(ctx context.Context, agencyID, assignmentID, replacementID string) (model.Assignment, error) {
	const op = "planning.Substitute"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	fail := func(err error) (model.Assignment, error) {
		metrics.RecordPlanningWrite("substitute", outcome(err))
		return model.Assignment{}, err
	}

	a, err := p.owned(ctx, agencyID, assignmentID)
	if err != nil {
		return fail(apperr.Wrap(op, err))
	}
	if replacementID == "" || replacementID == a.EmployeeID {
		return fail(apperr.WrapKind(op, model.ErrInvalidInput, errors.New("replacement must differ from the planned employee")))
	}
	if err := p.checkCandidate(ctx, agencyID, replacementID, a.Date); err != nil {
		return fail(apperr.Wrap(op, err))
	}

	replaced := a.EmployeeID
	if a.IsSubstitute && a.SubstituteFor != "" {
		replaced = a.SubstituteFor
	}
	yes := true
	updated, err := p.store.UpdateAssignment(ctx, a.ID, model.AssignmentPatch{
		EmployeeID:    &replacementID,
		IsSubstitute:  &yes,
		SubstituteFor: &replaced,
	})
	if err != nil {
		return fail(storeErr(op, err))
	}
	metrics.RecordPlanningWrite("substitute", "ok")
	p.log.Info(ctx, "employee substituted",
		logger.String("agency_id", agencyID),
		logger.String("replaced", replaced),
		logger.String("replacement", replacementID),
		logger.String("date", a.Date.Format(model.DateLayout)),
	)
	return updated, nil
}

// owned loads an assignment and checks it belongs to agencyID.
func (p *Planner) owned(ctx context.Context, agencyID, id string) (model.Assignment, error) {
	a, err := p.store.Assignment(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Assignment{}, err
		}
		return model.Assignment{}, apperr.WrapKind("planning.owned", model.ErrLedgerUnavailable, err)
	}
	if a.AgencyID != agencyID {
		return model.Assignment{}, fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	return a, nil
}

// checkCandidate verifies employeeID works at agencyID, is available on day
// and is not planned there yet.
func (p *Planner) checkCandidate(ctx context.Context, agencyID, employeeID string, day time.Time) error {
	staff, err := p.store.Employees(ctx, agencyID)
	if err != nil {
		return apperr.WrapKind("planning.checkCandidate", model.ErrLedgerUnavailable, err)
	}
	var emp *model.Employee
	for i := range staff {
		if staff[i].ID == employeeID {
			emp = &staff[i]
			break
		}
	}
	if emp == nil {
		return fmt.Errorf("employee %s at %s: %w", employeeID, agencyID, model.ErrNotFound)
	}
	if !emp.AvailableOn(day) {
		return fmt.Errorf("%s on %s: %w", emp.FullName(), day.Format(model.DateLayout), model.ErrEmployeeUnavailable)
	}

	planned, err := p.store.Assignments(ctx, agencyID, model.NewDateRange(day, day))
	if err != nil {
		return apperr.WrapKind("planning.checkCandidate", model.ErrLedgerUnavailable, err)
	}
	for _, a := range planned {
		if a.EmployeeID == employeeID {
			return fmt.Errorf("%s on %s: %w", emp.FullName(), day.Format(model.DateLayout), model.ErrDuplicateAssignment)
		}
	}
	return nil
}

func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, model.ErrDuplicateAssignment), errors.Is(err, model.ErrNotFound):
		return apperr.Wrap(op, err)
	default:
		return apperr.WrapKind(op, model.ErrLedgerUnavailable, err)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, model.ErrDuplicateAssignment):
		return "duplicate"
	case errors.Is(err, model.ErrEmployeeUnavailable):
		return "unavailable"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
