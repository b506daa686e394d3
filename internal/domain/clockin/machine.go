package clockin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pmuci/pointage/internal/domain/ledger"
	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/internal/domain/slots"
	"github.com/pmuci/pointage/internal/domain/verification"
	"github.com/pmuci/pointage/pkg/apperr"
	"github.com/pmuci/pointage/pkg/logger"
	"github.com/pmuci/pointage/pkg/metrics"
)

const (
	defaultTimeout       = 3 * time.Second
	defaultVerifyTimeout = 30 * time.Second
)

var tracer = otel.Tracer("pointage/clockin")

type attempt struct {
	id        string
	state     State
	scope     Scope
	day       time.Time
	employee  model.Employee
	verified  bool
	signature []byte
	elig      *Eligibility
	auto      *time.Timer
	autoAt    *time.Time
	lastErr   error
}

// Machine is the clock-in flow of one kiosk. Its transitions are serialized;
// different kiosks run independently.
type Machine struct {
	id       string
	gw       Gateway
	ledger   Ledger
	verifier verification.Provider
	notifier Notifier
	slots    func() []model.Slot

	clock         func() time.Time
	loc           *time.Location
	timeout       time.Duration
	verifyTimeout time.Duration
	log           logger.Logger

	mu      sync.Mutex
	cur     *attempt
	autoGen uint64 // bumped whenever a countdown is armed or disarmed
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(m *Machine) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLocation sets the zone used for "today" and slot minutes.
func WithLocation(loc *time.Location) Option {
	return func(m *Machine) {
		if loc != nil {
			m.loc = loc
		}
	}
}

// WithTimeout bounds each gateway call.
func WithTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithVerifyTimeout bounds the verification collaborator.
func WithVerifyTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.verifyTimeout = d
		}
	}
}

// WithNotifier sets where outcomes are reported.
func WithNotifier(n Notifier) Option {
	return func(m *Machine) { m.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

// New creates the machine of kiosk id. slotSource is read at every
// eligibility decision so configuration changes apply immediately.
func New(id string, gw Gateway, lg Ledger, verifier verification.Provider, slotSource func() []model.Slot, opts ...Option) *Machine {
	m := &Machine{
		id:            id,
		gw:            gw,
		ledger:        lg,
		verifier:      verifier,
		slots:         slotSource,
		clock:         time.Now,
		loc:           time.Local,
		timeout:       defaultTimeout,
		verifyTimeout: defaultVerifyTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Get().Named("clockin")
	}
	m.cur = m.fresh()
	return m
}

// ID returns the kiosk identifier.
func (m *Machine) ID() string { return m.id }

func (m *Machine) fresh() *attempt {
	return &attempt{id: uuid.NewString(), state: Identification}
}

func (m *Machine) now() time.Time { return m.clock().In(m.loc) }

// Identify looks up matricule and checks it is planned today at the scope's agency.
func (m *Machine) Identify(ctx context.Context, scope Scope, matricule string) (View, error) {
	const op = "identify"
	ctx, span := tracer.Start(ctx, "clockin.Identify")
	defer span.End()
	span.SetAttributes(attribute.String("kiosk", m.id), attribute.String("matricule", matricule))

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.state != Identification {
		return m.reject(ctx, op, apperr.NewKind("clockin.Identify", model.ErrInvalidTransition))
	}
	if scope.AgencyID == "" {
		return m.reject(ctx, op, apperr.NewKind("clockin.Identify", model.ErrNoActiveAgency))
	}
	if scope.Session != nil && !scope.Session.Valid() {
		return m.reject(ctx, op, apperr.NewKind("clockin.Identify", model.ErrSessionExpired))
	}
	if matricule == "" {
		return m.reject(ctx, op, apperr.NewKind("clockin.Identify", model.ErrUnknownMatricule))
	}

	emp, err := ledger.Bounded(ctx, m.timeout, func(ctx context.Context) (model.Employee, error) {
		return m.gw.EmployeeByMatricule(ctx, matricule)
	})
	switch {
	case errors.Is(err, model.ErrNotFound):
		metrics.RecordIdentificationFailure("unknown_matricule")
		return m.reject(ctx, op, apperr.WrapKind("clockin.Identify", model.ErrUnknownMatricule, err))
	case err != nil:
		return m.reject(ctx, op, apperr.WrapKind("clockin.Identify", model.ErrLedgerUnavailable, err))
	}

	today := model.Day(m.now())
	planned, err := ledger.Bounded(ctx, m.timeout, func(ctx context.Context) ([]model.Assignment, error) {
		return m.gw.Assignments(ctx, scope.AgencyID, model.NewDateRange(today, today))
	})
	if err != nil {
		return m.reject(ctx, op, apperr.WrapKind("clockin.Identify", model.ErrLedgerUnavailable, err))
	}
	if !isPlanned(planned, emp.ID, scope.AgencyID, today) {
		metrics.RecordIdentificationFailure("not_scheduled")
		return m.reject(ctx, op, apperr.WrapKind("clockin.Identify", model.ErrNotScheduledToday,
			fmt.Errorf("%s at %s on %s", matricule, scope.AgencyID, today.Format(model.DateLayout))))
	}

	m.cur.scope = scope
	m.cur.day = today
	m.cur.employee = emp
	m.cur.state = VerificationPending
	m.cur.lastErr = nil
	return m.accept(ctx, op)
}

func isPlanned(planned []model.Assignment, employeeID, agencyID string, day time.Time) bool {
	for _, a := range planned {
		if a.EmployeeID == employeeID && a.AgencyID == agencyID && model.Day(a.Date).Equal(day) {
			return true
		}
	}
	return false
}

// Verify asks the verification collaborator to confirm the identified
// employee. The lock is released while the collaborator works, and the
// result is dropped if the attempt was reset meanwhile.
func (m *Machine) Verify(ctx context.Context, capture []byte) (View, error) {
	const op = "verify"
	ctx, span := tracer.Start(ctx, "clockin.Verify")
	defer span.End()

	m.mu.Lock()
	if m.cur.state != VerificationPending {
		defer m.mu.Unlock()
		return m.reject(ctx, op, apperr.NewKind("clockin.Verify", model.ErrInvalidTransition))
	}
	if err := m.checkSession(); err != nil {
		defer m.mu.Unlock()
		return m.expire(ctx, op, err)
	}
	attemptID := m.cur.id
	req := verification.Request{
		EmployeeID: m.cur.employee.ID,
		Matricule:  m.cur.employee.Matricule,
		Capture:    capture,
	}
	m.mu.Unlock()

	vctx, cancel := context.WithTimeout(ctx, m.verifyTimeout)
	ok, verr := m.verifier.Verify(vctx, req)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur.id != attemptID || m.cur.state != VerificationPending {
		return m.reject(ctx, op, apperr.NewKind("clockin.Verify", model.ErrInvalidTransition))
	}
	if verr != nil {
		return m.reject(ctx, op, apperr.WrapKind("clockin.Verify", model.ErrVerificationFailed, verr))
	}
	if !ok {
		return m.reject(ctx, op, apperr.NewKind("clockin.Verify", model.ErrVerificationFailed))
	}
	m.cur.verified = true
	m.cur.state = Verified
	m.cur.lastErr = nil
	return m.accept(ctx, op)
}

// Sign attaches the signature artifact to the attempt. It is not persisted.
func (m *Machine) Sign(ctx context.Context, signature []byte) (View, error) {
	const op = "sign"
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.state != Verified {
		return m.reject(ctx, op, apperr.NewKind("clockin.Sign", model.ErrInvalidTransition))
	}
	if err := m.checkSession(); err != nil {
		return m.expire(ctx, op, err)
	}
	if len(signature) == 0 {
		return m.reject(ctx, op, apperr.NewKind("clockin.Sign", model.ErrSignatureRequired))
	}
	m.cur.signature = append([]byte(nil), signature...)
	m.cur.state = Signed
	m.cur.lastErr = nil
	return m.accept(ctx, op)
}

// Confirm enters Confirmable and decides, from the slot active now and the
// ledger, whether a record may be written. It can be called again from
// Confirmable to refresh the decision. A ledger failure forces CanCommit
// false and is returned.
func (m *Machine) Confirm(ctx context.Context) (View, error) {
	const op = "confirm"
	ctx, span := tracer.Start(ctx, "clockin.Confirm")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.state != Signed && m.cur.state != Confirmable {
		return m.reject(ctx, op, apperr.NewKind("clockin.Confirm", model.ErrInvalidTransition))
	}
	if err := m.checkSession(); err != nil {
		return m.expire(ctx, op, err)
	}
	m.stopAutoCommit()
	m.cur.state = Confirmable

	elig, err := m.eligibility(ctx)
	m.cur.elig = &elig
	span.SetAttributes(attribute.Bool("can_commit", elig.CanCommit), attribute.Int("slot", elig.SlotIndex))
	if err != nil {
		return m.reject(ctx, op, err)
	}
	m.cur.lastErr = nil
	return m.accept(ctx, op)
}

// eligibility computes canCommit = active slot exists AND no record for
// (employee, today, slot). Callers hold the lock.
func (m *Machine) eligibility(ctx context.Context) (Eligibility, error) {
	now := m.now()
	e := Eligibility{SlotIndex: slots.ActiveIndex(now, m.slots()), CheckedAt: now}
	if !model.Day(now).Equal(m.cur.day) {
		e.Reason = ReasonNoSlot
		return e, apperr.WrapKind("clockin.Confirm", model.ErrSlotChanged, errors.New("day changed"))
	}
	if e.SlotIndex == slots.None {
		e.Reason = ReasonNoSlot
		return e, nil
	}

	matricule := m.cur.employee.Matricule
	recorded, err := m.ledger.AttendanceFor(ctx, []string{matricule}, m.cur.day)
	if err != nil {
		e.Reason = ReasonLedger
		return e, err
	}
	if ledger.HasSlot(recorded[matricule], e.SlotIndex) {
		e.Reason = ReasonAlreadyRecorded
		return e, nil
	}
	e.CanCommit = true
	e.Reason = fmt.Sprintf(ReasonReady, e.SlotIndex+1)
	return e, nil
}

// CommitResult is returned by a successful commit.
type CommitResult struct {
	Record model.AttendanceRecord `json:"record"`
	View   View                   `json:"view"`
}

// Commit writes the attendance record decided at confirmation. It fails
// without advancing when the decision was negative, the slot or day changed
// since, the session expired, or the gateway rejects the write.
func (m *Machine) Commit(ctx context.Context) (CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitLocked(ctx)
}

func (m *Machine) commitLocked(ctx context.Context) (CommitResult, error) {
	const op = "commit"
	ctx, span := tracer.Start(ctx, "clockin.Commit")
	defer span.End()
	span.SetAttributes(attribute.String("kiosk", m.id))

	fail := func(err error) (CommitResult, error) {
		v, err := m.reject(ctx, op, err)
		return CommitResult{View: v}, err
	}

	m.stopAutoCommit()
	if m.cur.state != Confirmable {
		return fail(apperr.NewKind("clockin.Commit", model.ErrInvalidTransition))
	}
	if m.cur.elig == nil || !m.cur.elig.CanCommit {
		return fail(apperr.NewKind("clockin.Commit", model.ErrCommitNotAllowed))
	}
	if err := m.checkSession(); err != nil {
		v, err := m.expire(ctx, op, err)
		return CommitResult{View: v}, err
	}

	decided := *m.cur.elig
	fresh, err := m.eligibility(ctx)
	switch {
	case err != nil:
		m.cur.elig = &fresh
		return fail(err)
	case fresh.SlotIndex != decided.SlotIndex:
		fresh.CanCommit = false
		fresh.Reason = ReasonNoSlot
		m.cur.elig = &fresh
		return fail(apperr.WrapKind("clockin.Commit", model.ErrSlotChanged,
			fmt.Errorf("slot %d is no longer active", decided.SlotIndex)))
	case !fresh.CanCommit:
		m.cur.elig = &fresh
		metrics.RecordAttendanceDuplicate()
		return fail(apperr.NewKind("clockin.Commit", model.ErrDuplicateAttendance))
	}

	now := m.now()
	rec := model.AttendanceRecord{
		ID:        uuid.NewString(),
		Matricule: m.cur.employee.Matricule,
		Date:      m.cur.day,
		AgencyID:  m.cur.scope.AgencyID,
		SlotIndex: decided.SlotIndex,
		Timestamp: now,
	}
	started := time.Now()
	saved, err := ledger.Bounded(ctx, m.timeout, func(ctx context.Context) (model.AttendanceRecord, error) {
		return m.gw.InsertAttendance(ctx, rec)
	})
	metrics.RecordLedgerLatency("insert", float64(time.Since(started).Milliseconds()))
	if err != nil {
		m.cur.elig.CanCommit = false
		if errors.Is(err, model.ErrDuplicateAttendance) {
			m.cur.elig.Reason = ReasonAlreadyRecorded
			metrics.RecordAttendanceDuplicate()
			return fail(apperr.WrapKind("clockin.Commit", model.ErrDuplicateAttendance, err))
		}
		m.cur.elig.Reason = ReasonLedger
		metrics.RecordLedgerUnavailable()
		return fail(apperr.WrapKind("clockin.Commit", model.ErrLedgerUnavailable, err))
	}

	name := m.cur.employee.FullName()
	agency := m.cur.scope.AgencyID
	m.cur = m.fresh()

	metrics.RecordAttendanceCommitted()
	metrics.RecordTransition(op, "ok")
	m.notify(ctx, model.Notification{
		Title:    "Clock-in recorded",
		Message:  fmt.Sprintf("%s (%s) clocked in for slot %d.", name, saved.Matricule, saved.SlotIndex+1),
		Severity: model.SeveritySuccess,
		Topic:    "clockin",
		AgencyID: agency,
		At:       now,
	})
	m.log.Info(ctx, "attendance recorded",
		logger.String("kiosk", m.id),
		logger.String("matricule", saved.Matricule),
		logger.String("agency_id", saved.AgencyID),
		logger.Int("slot", saved.SlotIndex),
	)
	return CommitResult{Record: saved, View: m.viewLocked()}, nil
}

// Reset discards the attempt and returns to Identification. It never
// touches persisted data.
func (m *Machine) Reset() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	metrics.RecordTransition("reset", "ok")
	return m.viewLocked()
}

func (m *Machine) resetLocked() {
	m.stopAutoCommit()
	m.cur = m.fresh()
}

// ResetIfSession resets the attempt when it runs under sessionID.
func (m *Machine) ResetIfSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID == "" || m.cur.scope.sessionID() != sessionID {
		return false
	}
	m.resetLocked()
	return true
}

// Snapshot returns the current view.
func (m *Machine) Snapshot() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *Machine) viewLocked() View {
	v := View{
		KioskID:   m.id,
		AttemptID: m.cur.id,
		State:     m.cur.state,
		AgencyID:  m.cur.scope.AgencyID,
		Matricule: m.cur.employee.Matricule,
		Employee:  m.cur.employee.FullName(),
		Verified:  m.cur.verified,
		Signed:    len(m.cur.signature) > 0,
	}
	if m.cur.elig != nil {
		e := *m.cur.elig
		v.Eligibility = &e
	}
	if m.cur.autoAt != nil {
		at := *m.cur.autoAt
		v.AutoCommit = &at
	}
	if m.cur.lastErr != nil {
		v.LastError = m.cur.lastErr.Error()
	}
	return v
}

// checkSession fails when the attempt's supervisory session ended.
func (m *Machine) checkSession() error {
	if s := m.cur.scope.Session; s != nil {
		return s.Err()
	}
	return nil
}

// expire resets an attempt whose session is gone.
func (m *Machine) expire(ctx context.Context, op string, _ error) (View, error) {
	m.resetLocked()
	return m.reject(ctx, op, apperr.NewKind("clockin."+op, model.ErrSessionExpired))
}

// reject keeps the state, records err on the attempt and reports it.
func (m *Machine) reject(ctx context.Context, op string, err error) (View, error) {
	m.cur.lastErr = err
	kind := apperr.KindOf(err)
	outcome := "error"
	if kind != nil {
		outcome = kind.Error()
	}
	metrics.RecordTransition(op, outcome)
	if errors.Is(err, model.ErrLedgerUnavailable) {
		metrics.RecordErrorByComponent("clockin", "ledger")
	}

	title := "Clock-in failed"
	msg := err.Error()
	switch {
	case errors.Is(err, model.ErrDuplicateAttendance):
		title = "Already clocked in"
		msg = fmt.Sprintf("%s is already recorded for this slot; no new record was created.", m.cur.employee.Matricule)
	case errors.Is(err, model.ErrNotScheduledToday):
		title = "Not scheduled today"
	case errors.Is(err, model.ErrUnknownMatricule):
		title = "Unknown matricule"
	case errors.Is(err, model.ErrVerificationFailed):
		title = "Verification failed"
	case errors.Is(err, model.ErrLedgerUnavailable):
		title = "Attendance ledger unavailable"
	case errors.Is(err, model.ErrSessionExpired):
		title = "Session expired"
	}
	m.notify(ctx, model.Notification{
		Title:    title,
		Message:  msg,
		Severity: model.SeverityOf(err),
		Topic:    "clockin",
		AgencyID: m.cur.scope.AgencyID,
		At:       m.now(),
	})
	m.log.Debug(ctx, "transition rejected", logger.String("kiosk", m.id), logger.String("op", op), logger.Error(err))
	return m.viewLocked(), err
}

func (m *Machine) accept(_ context.Context, op string) (View, error) {
	metrics.RecordTransition(op, "ok")
	return m.viewLocked(), nil
}

func (m *Machine) notify(ctx context.Context, n model.Notification) {
	if m.notifier != nil {
		m.notifier.Notify(ctx, n)
	}
}
