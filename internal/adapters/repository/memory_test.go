package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pmuci/pointage/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var may1 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func seeded(t *testing.T, opts ...Option) *MemoryStore {
	t.Helper()
	f, err := LoadFixture("testdata/fixture.yaml")
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	s, err := NewMemoryStore(append(opts, WithFixture(f))...)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func TestFixture(t *testing.T) {
	Convey("Given the YAML fixture", t, func() {
		ctx := context.Background()
		s := seeded(t)

		Convey("Agencies are listed by name", func() {
			ags, err := s.Agencies(ctx)
			So(err, ShouldBeNil)
			So(len(ags), ShouldEqual, 2)
			So(ags[0].Name, ShouldEqual, "Agence Centrale")
			So(ags[0].RequiredTerminals, ShouldEqual, 2)
		})

		Convey("Employees keep their absence interval", func() {
			e, err := s.EmployeeByMatricule(ctx, "M003")
			So(err, ShouldBeNil)
			So(e.Availability, ShouldEqual, model.Absent)
			So(e.AvailableOn(time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC)), ShouldBeFalse)
			So(e.AvailableOn(may1), ShouldBeTrue)

			m, err := s.EmployeeByMatricule(ctx, "M002")
			So(err, ShouldBeNil)
			So(m.Availability, ShouldEqual, model.Available)
		})

		Convey("Assignments are filtered by agency and range", func() {
			all, err := s.Assignments(ctx, "", model.NewDateRange(may1, may1))
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 2)

			nord, err := s.Assignments(ctx, "nord", model.NewDateRange(may1, may1))
			So(err, ShouldBeNil)
			So(len(nord), ShouldEqual, 1)
			So(nord[0].EmployeeID, ShouldEqual, "e1")

			none, err := s.Assignments(ctx, "", model.NewDateRange(may1.AddDate(0, 0, 1), may1.AddDate(0, 0, 5)))
			So(err, ShouldBeNil)
			So(none, ShouldBeEmpty)
		})

		Convey("A missing fixture file is reported", func() {
			_, err := LoadFixture("testdata/missing.yaml")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestMemoryStoreUniqueness(t *testing.T) {
	Convey("Given a seeded store", t, func() {
		ctx := context.Background()
		s := seeded(t)

		Convey("An employee cannot be planned twice at the same agency on one day", func() {
			_, err := s.InsertAssignment(ctx, model.Assignment{Date: may1.Add(9 * time.Hour), AgencyID: "centrale", EmployeeID: "e2"})
			So(errors.Is(err, model.ErrDuplicateAssignment), ShouldBeTrue)

			a, err := s.InsertAssignment(ctx, model.Assignment{Date: may1.AddDate(0, 0, 1), AgencyID: "centrale", EmployeeID: "e2"})
			So(err, ShouldBeNil)
			So(a.ID, ShouldNotBeEmpty)
		})

		Convey("A substitution cannot collide with an existing assignment", func() {
			all, _ := s.Assignments(ctx, "centrale", model.NewDateRange(may1, may1))
			So(len(all), ShouldEqual, 1)
			extra, err := s.InsertAssignment(ctx, model.Assignment{Date: may1, AgencyID: "centrale", EmployeeID: "e3"})
			So(err, ShouldBeNil)

			e2 := "e2"
			_, err = s.UpdateAssignment(ctx, extra.ID, model.AssignmentPatch{EmployeeID: &e2})
			So(errors.Is(err, model.ErrDuplicateAssignment), ShouldBeTrue)

			_, err = s.UpdateAssignment(ctx, "nope", model.AssignmentPatch{})
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("Attendance is unique per matricule, day and slot", func() {
			rec := model.AttendanceRecord{Matricule: "M002", Date: may1, AgencyID: "centrale", SlotIndex: 0, Timestamp: may1.Add(9 * time.Hour)}
			_, err := s.InsertAttendance(ctx, rec)
			So(err, ShouldBeNil)
			_, err = s.InsertAttendance(ctx, rec)
			So(errors.Is(err, model.ErrDuplicateAttendance), ShouldBeTrue)

			rec.SlotIndex = 1
			_, err = s.InsertAttendance(ctx, rec)
			So(err, ShouldBeNil)

			got, err := s.Attendance(ctx, []string{"M002", "M001"}, may1)
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 2)

			day, err := s.AttendanceOn(ctx, may1)
			So(err, ShouldBeNil)
			So(len(day), ShouldEqual, 2)
		})

		Convey("Concurrent inserts of the same record keep exactly one", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			ok := 0
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.InsertAttendance(ctx, model.AttendanceRecord{Matricule: "M002", Date: may1, SlotIndex: 0})
					if err == nil {
						mu.Lock()
						ok++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			So(ok, ShouldEqual, 1)
		})
	})
}

func TestMemoryStoreLifecycle(t *testing.T) {
	Convey("Given an empty store", t, func() {
		ctx := context.Background()
		s, err := NewMemoryStore()
		So(err, ShouldBeNil)

		Convey("Settings round through raw JSON", func() {
			_, err := s.Setting(ctx, "general")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)

			So(s.PutSetting(ctx, "general", []byte(`{"session_minutes":45}`)), ShouldBeNil)
			raw, err := s.Setting(ctx, "general")
			So(err, ShouldBeNil)
			So(string(raw), ShouldEqual, `{"session_minutes":45}`)
		})

		Convey("Closing a connection stamps the open ones only", func() {
			at := may1.Add(8 * time.Hour)
			_, err := s.OpenConnection(ctx, model.ConnectionLog{ChefID: "c1", AgencyID: "centrale", ConnectedAt: at})
			So(err, ShouldBeNil)
			So(s.CloseConnection(ctx, "c1", at.Add(time.Hour)), ShouldBeNil)

			logs := s.Connections()
			So(len(logs), ShouldEqual, 1)
			So(logs[0].DisconnectedAt, ShouldNotBeNil)
			So(logs[0].DisconnectedAt.Equal(at.Add(time.Hour)), ShouldBeTrue)
		})

		Convey("Latency honours the caller's deadline", func() {
			slow, err := NewMemoryStore(WithLatency(time.Second))
			So(err, ShouldBeNil)
			cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()
			_, err = slow.Agencies(cctx)
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
		})

		Convey("Every call fails after Close", func() {
			So(s.Close(), ShouldBeNil)
			So(errors.Is(s.Ping(ctx), ErrClosed), ShouldBeTrue)
			_, err := s.Agencies(ctx)
			So(errors.Is(err, ErrClosed), ShouldBeTrue)
		})
	})
}
