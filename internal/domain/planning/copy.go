package planning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/pkg/apperr"
	"github.com/pmuci/pointage/pkg/logger"
	"github.com/pmuci/pointage/pkg/metrics"
)

// Period is the span copied forward by CopyPrevious.
type Period string

const (
	Week  Period = "week"
	Month Period = "month"
)

// ParsePeriod accepts "week" or "month".
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case Week, Month:
		return p, nil
	default:
		return "", fmt.Errorf("%w: period %q", model.ErrInvalidInput, s)
	}
}

// Bounds returns the period containing ref. Weeks start on Monday.
func (p Period) Bounds(ref time.Time) model.DateRange {
	d := model.Day(ref)
	if p == Month {
		first := d.AddDate(0, 0, 1-d.Day())
		return model.NewDateRange(first, first.AddDate(0, 1, -1))
	}
	offset := (int(d.Weekday()) + 6) % 7
	monday := d.AddDate(0, 0, -offset)
	return model.NewDateRange(monday, monday.AddDate(0, 0, 6))
}

// Previous returns the period just before the one containing ref.
func (p Period) Previous(ref time.Time) model.DateRange {
	cur := p.Bounds(ref)
	if p == Month {
		return p.Bounds(cur.Start.AddDate(0, -1, 0))
	}
	return p.Bounds(cur.Start.AddDate(0, 0, -7))
}

// CopyResult reports what CopyPrevious did.
type CopyResult struct {
	Target   model.DateRange `json:"target"`
	Source   int             `json:"source"`
	Inserted int             `json:"inserted"`
	Skipped  int             `json:"skipped"`
	Dropped  int             `json:"dropped"`
}

// CopyPrevious replays the previous period's plan onto the period
// containing ref, keeping each entry's offset from the period start.
// Entries already present are skipped, entries landing outside the target
// period (the 31st copied into a 30-day month) are dropped.
func (p *Planner) CopyPrevious(ctx context.Context, agencyID, chefID string, period Period, ref time.Time) (CopyResult, error) {
	const op = "planning.CopyPrevious"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	target := period.Bounds(ref)
	source := period.Previous(ref)
	res := CopyResult{Target: target}
	span.SetAttributes(attribute.String("agency", agencyID), attribute.String("period", string(period)))

	entries, err := p.Planned(ctx, agencyID, source)
	if err != nil {
		metrics.RecordPlanningWrite("copy", "error")
		return res, apperr.Wrap(op, err)
	}
	res.Source = len(entries)

	for _, e := range entries {
		day := target.Start.AddDate(0, 0, int(model.Day(e.Date).Sub(source.Start).Hours()/24))
		if !target.Contains(day) {
			res.Dropped++
			continue
		}
		_, err := p.store.InsertAssignment(ctx, model.Assignment{
			Date:          day,
			AgencyID:      agencyID,
			EmployeeID:    e.EmployeeID,
			ChefID:        chefID,
			IsSubstitute:  e.IsSubstitute,
			SubstituteFor: e.SubstituteFor,
		})
		switch {
		case errors.Is(err, model.ErrDuplicateAssignment):
			res.Skipped++
		case err != nil:
			metrics.RecordPlanningWrite("copy", "error")
			return res, apperr.WrapKind(op, model.ErrLedgerUnavailable, err)
		default:
			res.Inserted++
		}
	}

	metrics.RecordPlanningWrite("copy", "ok")
	p.log.Info(ctx, "previous plan copied",
		logger.String("agency_id", agencyID),
		logger.String("period", string(period)),
		logger.Int("inserted", res.Inserted),
		logger.Int("skipped", res.Skipped),
		logger.Int("dropped", res.Dropped),
	)
	return res, nil
}
