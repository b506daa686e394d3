package planning_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pmuci/pointage/internal/adapters/repository"
	"github.com/pmuci/pointage/internal/domain/ledger"
	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/internal/domain/planning"
	"github.com/pmuci/pointage/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func newStore() *repository.MemoryStore {
	s, _ := repository.NewMemoryStore()
	s.PutAgency(model.Agency{ID: "centrale", Name: "Agence Centrale", RequiredTerminals: 2})
	s.PutAgency(model.Agency{ID: "nord", Name: "Agence Nord", RequiredTerminals: 1})
	from, to := date(2024, 5, 10), date(2024, 5, 12)
	for _, e := range []model.Employee{
		{ID: "e1", Matricule: "M001", FirstName: "Ali", LastName: "Diallo", AgencyID: "nord"},
		{ID: "e2", Matricule: "M002", FirstName: "Binta", LastName: "Sow", AgencyID: "centrale"},
		{ID: "e3", Matricule: "M003", FirstName: "Chloe", LastName: "Yao", AgencyID: "centrale",
			Availability: model.Absent, UnavailableFrom: &from, UnavailableTo: &to},
		{ID: "e4", Matricule: "M004", FirstName: "Dina", LastName: "Bah", AgencyID: "centrale",
			Availability: model.Suspended},
	} {
		s.PutEmployee(e)
	}
	return s
}

func TestAddAndRemove(t *testing.T) {
	Convey("Given the Centrale planning", t, func() {
		ctx := context.Background()
		store := newStore()
		p := planning.New(store, nil)

		Convey("An available employee is planned once", func() {
			a, err := p.Add(ctx, "centrale", "c1", "e2", date(2024, 5, 1))
			So(err, ShouldBeNil)
			So(a.ChefID, ShouldEqual, "c1")
			So(a.IsSubstitute, ShouldBeFalse)

			_, err = p.Add(ctx, "centrale", "c1", "e2", date(2024, 5, 1))
			So(errors.Is(err, model.ErrDuplicateAssignment), ShouldBeTrue)
		})

		Convey("Absent and suspended employees are refused", func() {
			_, err := p.Add(ctx, "centrale", "c1", "e3", date(2024, 5, 11))
			So(errors.Is(err, model.ErrEmployeeUnavailable), ShouldBeTrue)

			_, err = p.Add(ctx, "centrale", "c1", "e3", date(2024, 5, 13))
			So(err, ShouldBeNil)

			_, err = p.Add(ctx, "centrale", "c1", "e4", date(2024, 5, 13))
			So(errors.Is(err, model.ErrEmployeeUnavailable), ShouldBeTrue)
		})

		Convey("Employees of another agency are not found", func() {
			_, err := p.Add(ctx, "centrale", "c1", "e1", date(2024, 5, 1))
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("Remove deletes only the agency's own assignment", func() {
			a, err := p.Add(ctx, "centrale", "c1", "e2", date(2024, 5, 1))
			So(err, ShouldBeNil)

			So(errors.Is(p.Remove(ctx, "nord", a.ID), model.ErrNotFound), ShouldBeTrue)
			So(p.Remove(ctx, "centrale", a.ID), ShouldBeNil)
			So(errors.Is(p.Remove(ctx, "centrale", a.ID), model.ErrNotFound), ShouldBeTrue)

			left, err := p.Planned(ctx, "centrale", model.NewDateRange(date(2024, 5, 1), date(2024, 5, 31)))
			So(err, ShouldBeNil)
			So(left, ShouldBeEmpty)
		})
	})
}

func TestAvailableAndSubstitute(t *testing.T) {
	Convey("Given e2 planned on 2024-05-11", t, func() {
		ctx := context.Background()
		store := newStore()
		p := planning.New(store, nil)
		day := date(2024, 5, 11)
		a, err := p.Add(ctx, "centrale", "c1", "e2", day)
		So(err, ShouldBeNil)

		Convey("Nobody else is available that day", func() {
			free, err := p.Available(ctx, "centrale", day, "")
			So(err, ShouldBeNil)
			So(free, ShouldBeEmpty)
		})

		Convey("After the absence e3 becomes available", func() {
			free, err := p.Available(ctx, "centrale", date(2024, 5, 13), "")
			So(err, ShouldBeNil)
			So(len(free), ShouldEqual, 2)
			So(free[0].ID, ShouldEqual, "e2")
			So(free[1].ID, ShouldEqual, "e3")

			free, err = p.Available(ctx, "centrale", date(2024, 5, 13), "e2")
			So(err, ShouldBeNil)
			So(len(free), ShouldEqual, 1)
		})

		Convey("An unavailable replacement is refused", func() {
			_, err := p.Substitute(ctx, "centrale", a.ID, "e3")
			So(errors.Is(err, model.ErrEmployeeUnavailable), ShouldBeTrue)
		})

		Convey("Replacing someone with themselves is invalid", func() {
			_, err := p.Substitute(ctx, "centrale", a.ID, "e2")
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("A free replacement takes the slot and remembers who it replaces", func() {
			b, err := p.Add(ctx, "centrale", "c1", "e2", date(2024, 5, 13))
			So(err, ShouldBeNil)

			sub, err := p.Substitute(ctx, "centrale", b.ID, "e3")
			So(err, ShouldBeNil)
			So(sub.EmployeeID, ShouldEqual, "e3")
			So(sub.IsSubstitute, ShouldBeTrue)
			So(sub.SubstituteFor, ShouldEqual, "e2")

			free, err := p.Available(ctx, "centrale", date(2024, 5, 13), "")
			So(err, ShouldBeNil)
			So(len(free), ShouldEqual, 1)
			So(free[0].ID, ShouldEqual, "e2")
		})
	})
}

func TestPeriods(t *testing.T) {
	Convey("Weeks start on Monday and months on the first", t, func() {
		w := planning.Week.Bounds(date(2024, 5, 1))
		So(w.Start, ShouldEqual, date(2024, 4, 29))
		So(w.End, ShouldEqual, date(2024, 5, 5))

		m := planning.Month.Bounds(date(2024, 2, 14))
		So(m.Start, ShouldEqual, date(2024, 2, 1))
		So(m.End, ShouldEqual, date(2024, 2, 29))

		So(planning.Month.Previous(date(2024, 3, 31)).Start, ShouldEqual, date(2024, 2, 1))
		So(planning.Week.Previous(date(2024, 5, 1)).Start, ShouldEqual, date(2024, 4, 22))

		_, err := planning.ParsePeriod("year")
		So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		p, err := planning.ParsePeriod(" Month ")
		So(err, ShouldBeNil)
		So(p, ShouldEqual, planning.Month)
	})
}

func TestCopyPrevious(t *testing.T) {
	Convey("Given a January plan", t, func() {
		ctx := context.Background()
		store := newStore()
		p := planning.New(store, nil)
		for _, d := range []int{2, 15, 31} {
			_, err := p.Add(ctx, "centrale", "c1", "e2", date(2024, 1, d))
			So(err, ShouldBeNil)
		}

		Convey("Copying into February keeps day offsets and drops the 31st", func() {
			res, err := p.CopyPrevious(ctx, "centrale", "c9", planning.Month, date(2024, 2, 10))
			So(err, ShouldBeNil)
			So(res.Source, ShouldEqual, 3)
			So(res.Inserted, ShouldEqual, 2)
			So(res.Dropped, ShouldEqual, 1)
			So(res.Skipped, ShouldEqual, 0)

			feb, err := p.Planned(ctx, "centrale", res.Target)
			So(err, ShouldBeNil)
			So(len(feb), ShouldEqual, 2)
			So(feb[0].Date, ShouldEqual, date(2024, 2, 2))
			So(feb[1].Date, ShouldEqual, date(2024, 2, 15))
			So(feb[0].ChefID, ShouldEqual, "c9")

			Convey("Copying again skips and counts the duplicates", func() {
				again, err := p.CopyPrevious(ctx, "centrale", "c9", planning.Month, date(2024, 2, 10))
				So(err, ShouldBeNil)
				So(again.Inserted, ShouldEqual, 0)
				So(again.Skipped, ShouldEqual, 2)
			})
		})

		Convey("Copying the previous week moves entries by seven days", func() {
			res, err := p.CopyPrevious(ctx, "centrale", "c1", planning.Week, date(2024, 1, 10))
			So(err, ShouldBeNil)
			So(res.Inserted, ShouldEqual, 1)

			wk, err := p.Planned(ctx, "centrale", res.Target)
			So(err, ShouldBeNil)
			So(len(wk), ShouldEqual, 1)
			So(wk[0].Date, ShouldEqual, date(2024, 1, 9))
		})

		Convey("An empty previous period copies nothing", func() {
			res, err := p.CopyPrevious(ctx, "nord", "c1", planning.Month, date(2024, 2, 1))
			So(err, ShouldBeNil)
			So(res.Source, ShouldEqual, 0)
			So(res.Inserted, ShouldEqual, 0)
		})
	})
}

func TestToday(t *testing.T) {
	Convey("Given a planned day with one recorded clock-in", t, func() {
		ctx := context.Background()
		s := newStore()
		p := planning.New(s, nil)
		day := date(2024, 5, 2)

		a2, err := p.Add(ctx, "centrale", "c1", "e2", day)
		So(err, ShouldBeNil)
		_, err = p.Add(ctx, "centrale", "c1", "e3", day)
		So(err, ShouldBeNil)
		_, err = s.InsertAttendance(ctx, model.AttendanceRecord{
			Matricule: "M002", Date: day, AgencyID: "centrale", SlotIndex: 0,
			Timestamp: day.Add(9*time.Hour + 5*time.Minute),
		})
		So(err, ShouldBeNil)

		daySlots := []model.Slot{{Start: 9 * 60, End: 10 * 60}, {Start: 14 * 60, End: 15 * 60}}
		now := day.Add(14*time.Hour + 30*time.Minute)

		got, err := p.Today(ctx, ledger.New(s), "centrale", now, daySlots)
		So(err, ShouldBeNil)

		Convey("It reports the open slot and the configured windows", func() {
			So(got.Date, ShouldEqual, "2024-05-02")
			So(got.ActiveSlot, ShouldEqual, 1)
			So(got.Slots[0].Start, ShouldEqual, "09:00")
		})

		Convey("It lists planned employees by name with their recorded slots", func() {
			So(len(got.Roster), ShouldEqual, 2)
			So(got.Roster[0].AssignmentID, ShouldEqual, a2.ID)
			So(len(got.Roster[0].Recorded), ShouldEqual, 1)
			So(got.Roster[0].Recorded[0].SlotIndex, ShouldEqual, 0)
			So(got.Roster[1].Employee.ID, ShouldEqual, "e3")
			So(got.Roster[1].Recorded, ShouldBeEmpty)
		})

		Convey("It aggregates progress per employee and for the agency", func() {
			So(got.Planned, ShouldEqual, 2)
			So(got.Completed, ShouldEqual, 0)
			So(got.PointagesDone, ShouldEqual, 1)
			So(got.PointagesExpected, ShouldEqual, 4)
			So(got.CompletionPercent, ShouldEqual, 25)
			So(got.Roster[0].Done, ShouldEqual, 1)
			So(got.Roster[0].Expected, ShouldEqual, 2)
			So(got.Roster[0].Percent, ShouldEqual, 50)
			So(got.Roster[0].Complete, ShouldBeFalse)
			So(got.Roster[1].Percent, ShouldEqual, 0)
		})

		Convey("An employee who recorded every slot is complete", func() {
			_, err := s.InsertAttendance(ctx, model.AttendanceRecord{
				Matricule: "M002", Date: day, AgencyID: "centrale", SlotIndex: 1,
				Timestamp: day.Add(14*time.Hour + 10*time.Minute),
			})
			So(err, ShouldBeNil)

			got, err := p.Today(ctx, ledger.New(s), "centrale", now, daySlots)
			So(err, ShouldBeNil)
			So(got.Completed, ShouldEqual, 1)
			So(got.PointagesDone, ShouldEqual, 2)
			So(got.CompletionPercent, ShouldEqual, 50)
			So(got.Roster[0].Complete, ShouldBeTrue)
			So(got.Roster[0].Percent, ShouldEqual, 100)
		})

		Convey("Without configured slots nobody is complete and nothing is expected", func() {
			got, err := p.Today(ctx, ledger.New(s), "centrale", now, nil)
			So(err, ShouldBeNil)
			So(got.PointagesExpected, ShouldEqual, 0)
			So(got.Completed, ShouldEqual, 0)
			So(got.CompletionPercent, ShouldEqual, 0)
		})
	})
}
