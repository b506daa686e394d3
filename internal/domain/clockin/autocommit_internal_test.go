package clockin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pmuci/pointage/internal/domain/ledger"
	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/internal/domain/verification"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingGateway struct {
	mu      sync.Mutex
	written []model.AttendanceRecord
}

func (g *recordingGateway) EmployeeByMatricule(context.Context, string) (model.Employee, error) {
	return model.Employee{}, model.ErrNotFound
}

func (g *recordingGateway) Assignments(context.Context, string, model.DateRange) ([]model.Assignment, error) {
	return nil, nil
}

func (g *recordingGateway) InsertAttendance(_ context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.written = append(g.written, rec)
	return rec, nil
}

func (g *recordingGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.written)
}

type emptyLedger struct{}

func (emptyLedger) AttendanceFor(_ context.Context, matricules []string, _ time.Time) (map[string][]ledger.Entry, error) {
	out := map[string][]ledger.Entry{}
	for _, m := range matricules {
		out[m] = []ledger.Entry{}
	}
	return out, nil
}

func TestAutoCommitGeneration(t *testing.T) {
	Convey("Given a confirmable attempt with an armed countdown", t, func() {
		now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
		gw := &recordingGateway{}
		provider := verification.ProviderFunc(func(context.Context, verification.Request) (bool, error) { return true, nil })
		m := New("k1", gw, emptyLedger{}, provider,
			func() []model.Slot { return []model.Slot{{Start: 9 * 60, End: 11 * 60}} },
			WithClock(func() time.Time { return now }),
			WithLocation(time.UTC),
		)
		m.cur.state = Confirmable
		m.cur.day = model.Day(now)
		m.cur.scope = Scope{AgencyID: "centrale"}
		m.cur.employee = model.Employee{ID: "e2", Matricule: "M002"}
		m.cur.elig = &Eligibility{SlotIndex: 0, CanCommit: true, CheckedAt: now}

		_, err := m.ScheduleAutoCommit(time.Hour)
		So(err, ShouldBeNil)
		m.mu.Lock()
		attemptID, stale := m.cur.id, m.autoGen
		m.mu.Unlock()

		Convey("A callback from a replaced countdown does not commit", func() {
			_, err := m.ScheduleAutoCommit(time.Hour)
			So(err, ShouldBeNil)

			m.autoCommit(attemptID, stale)
			So(gw.count(), ShouldEqual, 0)
			So(m.Snapshot().State, ShouldEqual, Confirmable)
			So(m.Snapshot().AutoCommit, ShouldNotBeNil)

			m.mu.Lock()
			current := m.autoGen
			m.mu.Unlock()
			m.autoCommit(attemptID, current)
			So(gw.count(), ShouldEqual, 1)
			So(m.Snapshot().State, ShouldEqual, Identification)
		})

		Convey("A callback after the countdown was cancelled and re-armed does not commit", func() {
			m.CancelAutoCommit()
			_, err := m.ScheduleAutoCommit(time.Hour)
			So(err, ShouldBeNil)

			m.autoCommit(attemptID, stale)
			So(gw.count(), ShouldEqual, 0)
			m.CancelAutoCommit()
		})
	})
}
