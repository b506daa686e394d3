package clockin_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pmuci/pointage/internal/domain/clockin"
	"github.com/pmuci/pointage/internal/domain/ledger"
	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/internal/domain/session"
	"github.com/pmuci/pointage/internal/domain/verification"
	"github.com/pmuci/pointage/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var spans = tracetest.NewSpanRecorder()

func init() {
	_ = logger.Init()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
}

func endedSpan(name string) bool {
	for _, s := range spans.Ended() {
		if s.Name() == name {
			return true
		}
	}
	return false
}

var may1 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(hh, mm int) {
	c.mu.Lock()
	c.now = may1.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
	c.mu.Unlock()
}

type gateway struct {
	mu          sync.Mutex
	employees   map[string]model.Employee
	assignments []model.Assignment
	records     []model.AttendanceRecord
	failLookup  error
	failQuery   error
	failInsert  error
	blockQuery  bool
	blockInsert bool
}

// hang waits for ctx when block is set, the way a stalled database would.
func (g *gateway) hang(ctx context.Context, block *bool) error {
	g.mu.Lock()
	b := *block
	g.mu.Unlock()
	if !b {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (g *gateway) EmployeeByMatricule(_ context.Context, m string) (model.Employee, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failLookup != nil {
		return model.Employee{}, g.failLookup
	}
	e, ok := g.employees[m]
	if !ok {
		return model.Employee{}, fmt.Errorf("employee %s: %w", m, model.ErrNotFound)
	}
	return e, nil
}

func (g *gateway) Assignments(_ context.Context, agencyID string, r model.DateRange) ([]model.Assignment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []model.Assignment
	for _, a := range g.assignments {
		if a.AgencyID == agencyID && r.Contains(a.Date) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (g *gateway) Attendance(ctx context.Context, matricules []string, day time.Time) ([]model.AttendanceRecord, error) {
	if err := g.hang(ctx, &g.blockQuery); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failQuery != nil {
		return nil, g.failQuery
	}
	want := map[string]bool{}
	for _, m := range matricules {
		want[m] = true
	}
	var out []model.AttendanceRecord
	for _, r := range g.records {
		if want[r.Matricule] && r.Date.Equal(day) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (g *gateway) InsertAttendance(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	if err := g.hang(ctx, &g.blockInsert); err != nil {
		return model.AttendanceRecord{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failInsert != nil {
		return model.AttendanceRecord{}, g.failInsert
	}
	for _, r := range g.records {
		if r.Matricule == rec.Matricule && r.Date.Equal(rec.Date) && r.SlotIndex == rec.SlotIndex {
			return model.AttendanceRecord{}, fmt.Errorf("insert: %w", model.ErrDuplicateAttendance)
		}
	}
	g.records = append(g.records, rec)
	return rec, nil
}

func (g *gateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}

type inbox struct {
	mu    sync.Mutex
	items []model.Notification
}

func (b *inbox) Notify(_ context.Context, n model.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, n)
}

func (b *inbox) last() model.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items[len(b.items)-1]
}

type fixture struct {
	gw      *gateway
	timeout time.Duration
	clock   *clock
	box     *inbox
	match   bool
	build   func(id string) *clockin.Machine
	scope   clockin.Scope
}

func newFixture() *fixture {
	f := &fixture{
		gw: &gateway{
			employees: map[string]model.Employee{
				"M001": {ID: "e1", Matricule: "M001", FirstName: "Ali", LastName: "Diallo"},
				"M002": {ID: "e2", Matricule: "M002", FirstName: "Binta", LastName: "Sow"},
				"M003": {ID: "e3", Matricule: "M003", FirstName: "Chloe", LastName: "Yao"},
			},
			assignments: []model.Assignment{
				{ID: "a2", Date: may1, AgencyID: "centrale", EmployeeID: "e2"},
				{ID: "a3", Date: may1, AgencyID: "centrale", EmployeeID: "e3"},
				{ID: "a1", Date: may1, AgencyID: "nord", EmployeeID: "e1"},
			},
		},
		clock:   &clock{},
		box:     &inbox{},
		match:   true,
		scope:   clockin.Scope{AgencyID: "centrale"},
		timeout: time.Second,
	}
	f.clock.Set(9, 30)
	cfg := []model.Slot{{Start: 9 * 60, End: 11 * 60}, {Start: 13 * 60, End: 15 * 60}}
	provider := verification.ProviderFunc(func(context.Context, verification.Request) (bool, error) {
		return f.match, nil
	})
	f.build = func(id string) *clockin.Machine {
		lg := ledger.New(f.gw, ledger.WithTimeout(f.timeout))
		return clockin.New(id, f.gw, lg, provider, func() []model.Slot { return cfg },
			clockin.WithTimeout(f.timeout),
			clockin.WithClock(f.clock.Now),
			clockin.WithLocation(time.UTC),
			clockin.WithNotifier(f.box),
		)
	}
	return f
}

// walk drives m from Identification to Confirmable.
func walk(ctx context.Context, f *fixture, m *clockin.Machine, matricule string) (clockin.View, error) {
	if _, err := m.Identify(ctx, f.scope, matricule); err != nil {
		return clockin.View{}, err
	}
	if _, err := m.Verify(ctx, []byte("capture")); err != nil {
		return clockin.View{}, err
	}
	if _, err := m.Sign(ctx, []byte("signature")); err != nil {
		return clockin.View{}, err
	}
	return m.Confirm(ctx)
}

func TestIdentification(t *testing.T) {
	Convey("Given a kiosk at agency Centrale on 2024-05-01", t, func() {
		ctx := context.Background()
		f := newFixture()
		m := f.build("k1")

		Convey("An employee planned elsewhere is not scheduled today", func() {
			v, err := m.Identify(ctx, f.scope, "M001")
			So(errors.Is(err, model.ErrNotScheduledToday), ShouldBeTrue)
			So(v.State, ShouldEqual, clockin.Identification)
			So(f.box.last().Severity, ShouldEqual, model.SeverityWarning)
		})

		Convey("An unknown matricule is reported distinctly", func() {
			_, err := m.Identify(ctx, f.scope, "X999")
			So(errors.Is(err, model.ErrUnknownMatricule), ShouldBeTrue)
			So(errors.Is(err, model.ErrNotScheduledToday), ShouldBeFalse)
			So(m.Snapshot().State, ShouldEqual, clockin.Identification)
		})

		Convey("A gateway failure is a ledger failure, not an unknown matricule", func() {
			f.gw.failLookup = errors.New("connection reset")
			_, err := m.Identify(ctx, f.scope, "M002")
			So(errors.Is(err, model.ErrLedgerUnavailable), ShouldBeTrue)
			So(f.box.last().Severity, ShouldEqual, model.SeverityDestructive)
		})

		Convey("A planned employee moves to verification", func() {
			v, err := m.Identify(ctx, f.scope, "M002")
			So(err, ShouldBeNil)
			So(v.State, ShouldEqual, clockin.VerificationPending)
			So(v.Employee, ShouldEqual, "Binta Sow")
			So(v.AgencyID, ShouldEqual, "centrale")
		})

		Convey("Without an agency nothing can be identified", func() {
			_, err := m.Identify(ctx, clockin.Scope{}, "M002")
			So(errors.Is(err, model.ErrNoActiveAgency), ShouldBeTrue)
		})
	})
}

func TestVerificationAndSignature(t *testing.T) {
	Convey("Given an identified employee", t, func() {
		ctx := context.Background()
		f := newFixture()
		m := f.build("k1")
		_, err := m.Identify(ctx, f.scope, "M002")
		So(err, ShouldBeNil)

		Convey("A negative match keeps the attempt waiting for verification", func() {
			f.match = false
			v, err := m.Verify(ctx, []byte("capture"))
			So(errors.Is(err, model.ErrVerificationFailed), ShouldBeTrue)
			So(v.State, ShouldEqual, clockin.VerificationPending)

			f.match = true
			v, err = m.Verify(ctx, []byte("capture"))
			So(err, ShouldBeNil)
			So(v.State, ShouldEqual, clockin.Verified)
		})

		Convey("Signing before verification is refused", func() {
			_, err := m.Sign(ctx, []byte("sig"))
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
		})

		Convey("An empty signature is refused", func() {
			_, _ = m.Verify(ctx, []byte("capture"))
			v, err := m.Sign(ctx, nil)
			So(errors.Is(err, model.ErrSignatureRequired), ShouldBeTrue)
			So(v.State, ShouldEqual, clockin.Verified)
		})

		Convey("Reset discards everything without writing", func() {
			_, _ = m.Verify(ctx, []byte("capture"))
			_, _ = m.Sign(ctx, []byte("sig"))
			before := m.Snapshot().AttemptID
			v := m.Reset()
			So(v.State, ShouldEqual, clockin.Identification)
			So(v.Matricule, ShouldBeEmpty)
			So(v.Verified, ShouldBeFalse)
			So(v.Signed, ShouldBeFalse)
			So(v.AttemptID, ShouldNotEqual, before)
			So(f.gw.count(), ShouldEqual, 0)
		})
	})
}

func TestConfirmAndCommit(t *testing.T) {
	Convey("Given slot 0 (09:00-11:00) active", t, func() {
		ctx := context.Background()
		f := newFixture()
		m := f.build("k1")

		Convey("A clean attempt commits and returns to identification", func() {
			v, err := walk(ctx, f, m, "M002")
			So(err, ShouldBeNil)
			So(v.State, ShouldEqual, clockin.Confirmable)
			So(v.Eligibility.CanCommit, ShouldBeTrue)
			So(v.Eligibility.SlotIndex, ShouldEqual, 0)

			res, err := m.Commit(ctx)
			So(err, ShouldBeNil)
			So(res.Record.Matricule, ShouldEqual, "M002")
			So(res.Record.AgencyID, ShouldEqual, "centrale")
			So(res.Record.SlotIndex, ShouldEqual, 0)
			So(res.Record.Date, ShouldEqual, may1)
			So(res.View.State, ShouldEqual, clockin.Identification)
			So(f.gw.count(), ShouldEqual, 1)
			So(f.box.last().Severity, ShouldEqual, model.SeveritySuccess)
			So(endedSpan("clockin.Commit"), ShouldBeTrue)
			So(endedSpan("ledger.AttendanceFor"), ShouldBeTrue)
		})

		Convey("An existing record for the slot blocks the commit", func() {
			f.gw.records = append(f.gw.records, model.AttendanceRecord{Matricule: "M002", Date: may1, SlotIndex: 0})

			v, err := walk(ctx, f, m, "M002")
			So(err, ShouldBeNil)
			So(v.Eligibility.CanCommit, ShouldBeFalse)
			So(v.Eligibility.Reason, ShouldEqual, "already recorded for this slot")

			_, err = m.Commit(ctx)
			So(errors.Is(err, model.ErrCommitNotAllowed), ShouldBeTrue)
			So(m.Snapshot().State, ShouldEqual, clockin.Confirmable)
			So(f.gw.count(), ShouldEqual, 1)
		})

		Convey("A record from the previous day does not block today", func() {
			f.gw.records = append(f.gw.records, model.AttendanceRecord{Matricule: "M002", Date: may1.AddDate(0, 0, -1), SlotIndex: 0})
			v, err := walk(ctx, f, m, "M002")
			So(err, ShouldBeNil)
			So(v.Eligibility.CanCommit, ShouldBeTrue)
		})

		Convey("Outside every slot the attempt cannot commit", func() {
			f.clock.Set(12, 0)
			v, err := walk(ctx, f, m, "M002")
			So(err, ShouldBeNil)
			So(v.Eligibility.CanCommit, ShouldBeFalse)
			So(v.Eligibility.Reason, ShouldEqual, "no active time slot")
		})

		Convey("A ledger failure at confirmation fails closed", func() {
			f.gw.failQuery = errors.New("timeout")
			v, err := walk(ctx, f, m, "M002")
			So(errors.Is(err, model.ErrLedgerUnavailable), ShouldBeTrue)
			So(v.State, ShouldEqual, clockin.Confirmable)
			So(v.Eligibility.CanCommit, ShouldBeFalse)

			_, err = m.Commit(ctx)
			So(errors.Is(err, model.ErrCommitNotAllowed), ShouldBeTrue)
			So(f.gw.count(), ShouldEqual, 0)
		})

		Convey("A slot change after confirmation makes the commit fail", func() {
			f.clock.Set(10, 59)
			_, err := walk(ctx, f, m, "M002")
			So(err, ShouldBeNil)

			f.clock.Set(11, 1)
			_, err = m.Commit(ctx)
			So(errors.Is(err, model.ErrSlotChanged), ShouldBeTrue)
			So(m.Snapshot().State, ShouldEqual, clockin.Confirmable)
			So(m.Snapshot().Eligibility.CanCommit, ShouldBeFalse)
			So(f.gw.count(), ShouldEqual, 0)
		})

		Convey("A record that appears after confirmation makes the commit fail", func() {
			_, err := walk(ctx, f, m, "M002")
			So(err, ShouldBeNil)

			f.gw.records = append(f.gw.records, model.AttendanceRecord{Matricule: "M002", Date: may1, SlotIndex: 0})
			_, err = m.Commit(ctx)
			So(errors.Is(err, model.ErrDuplicateAttendance), ShouldBeTrue)
			So(m.Snapshot().State, ShouldEqual, clockin.Confirmable)
			So(f.gw.count(), ShouldEqual, 1)
			So(f.box.last().Title, ShouldEqual, "Already clocked in")
		})

		Convey("A rejected write does not advance", func() {
			_, err := walk(ctx, f, m, "M002")
			So(err, ShouldBeNil)

			f.gw.failInsert = errors.New("disk full")
			_, err = m.Commit(ctx)
			So(errors.Is(err, model.ErrLedgerUnavailable), ShouldBeTrue)
			So(m.Snapshot().State, ShouldEqual, clockin.Confirmable)
			So(m.Snapshot().Eligibility.CanCommit, ShouldBeFalse)
		})

		Convey("Commit from an earlier state is an invalid transition", func() {
			_, _ = m.Identify(ctx, f.scope, "M002")
			_, err := m.Commit(ctx)
			So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
		})
	})
}

func TestStalledLedger(t *testing.T) {
	Convey("Given a ledger that hangs until its deadline", t, func() {
		ctx := context.Background()
		f := newFixture()
		f.timeout = 50 * time.Millisecond
		m := f.build("k1")

		Convey("Confirm reports the ledger unavailable and stays confirmable", func() {
			f.gw.blockQuery = true
			started := time.Now()
			v, err := walk(ctx, f, m, "M002")
			So(errors.Is(err, model.ErrLedgerUnavailable), ShouldBeTrue)
			So(time.Since(started), ShouldBeLessThan, time.Second)
			So(v.State, ShouldEqual, clockin.Confirmable)
			So(v.Eligibility.CanCommit, ShouldBeFalse)
			So(m.Snapshot().State, ShouldEqual, clockin.Confirmable)
		})

		Convey("A commit whose insert hangs fails closed without advancing", func() {
			_, err := walk(ctx, f, m, "M002")
			So(err, ShouldBeNil)

			f.gw.blockInsert = true
			_, err = m.Commit(ctx)
			So(errors.Is(err, model.ErrLedgerUnavailable), ShouldBeTrue)
			So(m.Snapshot().State, ShouldEqual, clockin.Confirmable)
			So(m.Snapshot().Eligibility.CanCommit, ShouldBeFalse)
			So(f.gw.count(), ShouldEqual, 0)
		})
	})
}

func TestConcurrentCommits(t *testing.T) {
	Convey("Given the same employee confirmed on several kiosks", t, func() {
		ctx := context.Background()
		f := newFixture()

		machines := make([]*clockin.Machine, 8)
		for i := range machines {
			machines[i] = f.build(fmt.Sprintf("k%d", i))
			_, err := walk(ctx, f, machines[i], "M002")
			So(err, ShouldBeNil)
		}

		Convey("At most one record is written", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			var ok, dup int
			for _, m := range machines {
				wg.Add(1)
				go func(m *clockin.Machine) {
					defer wg.Done()
					_, err := m.Commit(ctx)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						ok++
					case errors.Is(err, model.ErrDuplicateAttendance):
						dup++
					}
				}(m)
			}
			wg.Wait()

			So(f.gw.count(), ShouldEqual, 1)
			So(ok, ShouldEqual, 1)
			So(dup, ShouldEqual, len(machines)-1)
		})
	})
}

func TestSessionScope(t *testing.T) {
	Convey("Given an attempt running under a chef session", t, func() {
		ctx := context.Background()
		f := newFixture()
		wd := session.NewWatchdog(30*time.Minute, session.WithClock(f.clock.Now))
		sc := session.NewContext(model.Session{ID: "s1", AgencyID: "centrale"}, wd)
		f.scope = clockin.Scope{AgencyID: "centrale", Session: sc}
		m := f.build("k1")

		_, err := walk(ctx, f, m, "M002")
		So(err, ShouldBeNil)

		Convey("An expired session is never committed", func() {
			f.clock.Set(10, 1)
			_, err := m.Commit(ctx)
			So(errors.Is(err, model.ErrSessionExpired), ShouldBeTrue)
			So(m.Snapshot().State, ShouldEqual, clockin.Identification)
			So(f.gw.count(), ShouldEqual, 0)
		})

		Convey("The registry resets attempts of an ended session", func() {
			reg := clockin.NewRegistry(func(string) *clockin.Machine { return m })
			other := reg.Get("k1")
			So(other, ShouldEqual, m)
			So(reg.ResetSession("s1"), ShouldResemble, []string{"k1"})
			So(m.Snapshot().State, ShouldEqual, clockin.Identification)
			So(reg.ResetSession("s1"), ShouldBeEmpty)
		})
	})

	Convey("ScopeFor prefers a live session then the central agency", t, func() {
		settings := model.Settings{CentralisedClocking: true, CentralAgencyID: "siege"}
		scope, err := clockin.ScopeFor(nil, settings)
		So(err, ShouldBeNil)
		So(scope.AgencyID, ShouldEqual, "siege")

		_, err = clockin.ScopeFor(nil, model.Settings{})
		So(errors.Is(err, model.ErrNoActiveAgency), ShouldBeTrue)

		sc := session.NewContext(model.Session{ID: "s", AgencyID: "nord"}, session.NewWatchdog(time.Hour))
		scope, err = clockin.ScopeFor(sc, settings)
		So(err, ShouldBeNil)
		So(scope.AgencyID, ShouldEqual, "nord")
	})
}

func TestAutoCommit(t *testing.T) {
	Convey("Given a confirmable attempt", t, func() {
		ctx := context.Background()
		f := newFixture()
		m := f.build("k1")
		_, err := walk(ctx, f, m, "M002")
		So(err, ShouldBeNil)

		Convey("The countdown commits through the usual re-check", func() {
			v, err := m.ScheduleAutoCommit(10 * time.Millisecond)
			So(err, ShouldBeNil)
			So(v.AutoCommit, ShouldNotBeNil)

			deadline := time.Now().Add(2 * time.Second)
			for f.gw.count() == 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(f.gw.count(), ShouldEqual, 1)
			So(m.Snapshot().State, ShouldEqual, clockin.Identification)
		})

		Convey("Reset cancels the countdown", func() {
			_, err := m.ScheduleAutoCommit(20 * time.Millisecond)
			So(err, ShouldBeNil)
			m.Reset()
			time.Sleep(60 * time.Millisecond)
			So(f.gw.count(), ShouldEqual, 0)
		})

		Convey("A countdown cannot start when the attempt may not commit", func() {
			f.gw.records = append(f.gw.records, model.AttendanceRecord{Matricule: "M002", Date: may1, SlotIndex: 0})
			_, err := m.Confirm(ctx)
			So(err, ShouldBeNil)
			_, err = m.ScheduleAutoCommit(time.Millisecond)
			So(errors.Is(err, model.ErrCommitNotAllowed), ShouldBeTrue)
		})
	})
}
