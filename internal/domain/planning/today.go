package planning

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pmuci/pointage/internal/domain/ledger"
	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/internal/domain/slots"
	"github.com/pmuci/pointage/pkg/apperr"
)

// Ledger reports recorded attendance. *ledger.Query satisfies it.
type Ledger interface {
	AttendanceFor(ctx context.Context, matricules []string, day time.Time) (map[string][]ledger.Entry, error)
}

// RosterEntry is one planned employee and the slots they clocked in for.
// Done counts recorded slots against the Expected one per configured slot.
type RosterEntry struct {
	AssignmentID string         `json:"assignment_id"`
	Employee     model.Employee `json:"employee"`
	IsSubstitute bool           `json:"is_substitute"`
	Recorded     []ledger.Entry `json:"recorded"`
	Done         int            `json:"done"`
	Expected     int            `json:"expected"`
	Percent      int            `json:"percent"`
	Complete     bool           `json:"complete"`
}

// Today is the kiosk summary of one agency for one day.
type Today struct {
	AgencyID   string         `json:"agency_id"`
	Date       string         `json:"date"`
	ActiveSlot int            `json:"active_slot"`
	Slots      []slots.Window `json:"slots"`
	Roster     []RosterEntry  `json:"roster"`

	// Planned employees, how many recorded every slot, and the agency's
	// clock-ins done against those expected.
	Planned           int `json:"planned"`
	Completed         int `json:"completed"`
	PointagesDone     int `json:"pointages_done"`
	PointagesExpected int `json:"pointages_expected"`
	CompletionPercent int `json:"completion_percent"`
}

// Today lists who is planned at agencyID on now's day together with what
// the ledger recorded for them, and the slot open at now.
func (p *Planner) Today(ctx context.Context, lg Ledger, agencyID string, now time.Time, daySlots []model.Slot) (Today, error) {
	const op = "planning.Today"
	day := model.Day(now)

	planned, err := p.Planned(ctx, agencyID, model.NewDateRange(day, day))
	if err != nil {
		return Today{}, err
	}
	staff, err := p.store.Employees(ctx, "")
	if err != nil {
		return Today{}, apperr.WrapKind(op, model.ErrLedgerUnavailable, err)
	}
	byID := make(map[string]model.Employee, len(staff))
	for _, e := range staff {
		byID[e.ID] = e
	}

	roster := make([]RosterEntry, 0, len(planned))
	matricules := make([]string, 0, len(planned))
	for _, a := range planned {
		e, ok := byID[a.EmployeeID]
		if !ok {
			continue
		}
		roster = append(roster, RosterEntry{AssignmentID: a.ID, Employee: e, IsSubstitute: a.IsSubstitute})
		matricules = append(matricules, e.Matricule)
	}

	recorded, err := lg.AttendanceFor(ctx, matricules, day)
	if err != nil {
		return Today{}, apperr.Wrap(op, err)
	}
	expected := len(daySlots)
	out := Today{
		AgencyID:          agencyID,
		Date:              day.Format(model.DateLayout),
		ActiveSlot:        slots.ActiveIndex(now, daySlots),
		Slots:             slots.Format(daySlots),
		Planned:           len(roster),
		PointagesExpected: len(roster) * expected,
	}
	for i := range roster {
		e := &roster[i]
		e.Recorded = recorded[e.Employee.Matricule]
		e.Done = len(e.Recorded)
		e.Expected = expected
		e.Percent = percent(e.Done, expected)
		e.Complete = expected > 0 && e.Done >= expected
		if e.Complete {
			out.Completed++
		}
		out.PointagesDone += e.Done
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].Employee.FullName() < roster[j].Employee.FullName() })
	out.Roster = roster
	out.CompletionPercent = percent(out.PointagesDone, out.PointagesExpected)
	return out, nil
}

// percent is done/expected as a rounded percentage, zero when nothing is expected.
func percent(done, expected int) int {
	if expected <= 0 {
		return 0
	}
	return int(math.Round(float64(done) * 100 / float64(expected)))
}
