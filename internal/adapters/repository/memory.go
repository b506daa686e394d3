package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pmuci/pointage/internal/domain/model"
)

// MemoryStore is an in-memory Gateway. It enforces the same uniqueness
// rules as the PostgreSQL schema.
type MemoryStore struct {
	mu sync.RWMutex

	agencies    map[string]model.Agency
	chefs       map[string]model.Chef
	employees   map[string]model.Employee
	byMatricule map[string]string
	assignments map[string]model.Assignment
	attendance  map[string]model.AttendanceRecord
	connections []model.ConnectionLog
	settings    map[string][]byte
	closed      bool

	latency time.Duration
	seed    *Fixture
}

var _ Gateway = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store, seeded when WithFixture is given.
func NewMemoryStore(opts ...Option) (*MemoryStore, error) {
	s := &MemoryStore{
		agencies:    make(map[string]model.Agency),
		chefs:       make(map[string]model.Chef),
		employees:   make(map[string]model.Employee),
		byMatricule: make(map[string]string),
		assignments: make(map[string]model.Assignment),
		attendance:  make(map[string]model.AttendanceRecord),
		settings:    make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.seed != nil {
		if err := s.Seed(*s.seed); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Seed adds the fixture's rows. Assignments that break uniqueness fail.
func (s *MemoryStore) Seed(f Fixture) error {
	for _, a := range f.Agencies {
		s.PutAgency(model.Agency{ID: a.ID, Name: a.Name, RequiredTerminals: a.RequiredTerminals})
	}
	for _, c := range f.Chefs {
		s.PutChef(model.Chef{ID: c.ID, FirstName: c.FirstName, LastName: c.LastName, AgencyID: c.AgencyID})
	}
	for _, fe := range f.Employees {
		e, err := fe.model()
		if err != nil {
			return err
		}
		s.PutEmployee(e)
	}
	for _, fa := range f.Assignments {
		day, err := model.ParseDay(fa.Date)
		if err != nil {
			return fmt.Errorf("assignment of %s: %w", fa.EmployeeID, err)
		}
		if _, err := s.InsertAssignment(context.Background(), model.Assignment{
			Date:       day,
			AgencyID:   fa.AgencyID,
			EmployeeID: fa.EmployeeID,
			ChefID:     fa.ChefID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// PutAgency inserts or replaces an agency.
func (s *MemoryStore) PutAgency(a model.Agency) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agencies[a.ID] = a
}

// PutChef inserts or replaces a chef.
func (s *MemoryStore) PutChef(c model.Chef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chefs[c.ID] = c
}

// PutEmployee inserts or replaces an employee.
func (s *MemoryStore) PutEmployee(e model.Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.employees[e.ID]; ok {
		delete(s.byMatricule, old.Matricule)
	}
	s.employees[e.ID] = e
	s.byMatricule[e.Matricule] = e.ID
}

// wait applies the configured latency and reports closure or cancellation.
func (s *MemoryStore) wait(ctx context.Context) error {
	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Agencies(ctx context.Context) ([]model.Agency, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Agency, 0, len(s.agencies))
	for _, a := range s.agencies {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) Agency(ctx context.Context, id string) (model.Agency, error) {
	if err := s.wait(ctx); err != nil {
		return model.Agency{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agencies[id]
	if !ok {
		return model.Agency{}, fmt.Errorf("agency %s: %w", id, model.ErrNotFound)
	}
	return a, nil
}

func (s *MemoryStore) Chefs(ctx context.Context) ([]model.Chef, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Chef, 0, len(s.chefs))
	for _, c := range s.chefs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Chef(ctx context.Context, id string) (model.Chef, error) {
	if err := s.wait(ctx); err != nil {
		return model.Chef{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chefs[id]
	if !ok {
		return model.Chef{}, fmt.Errorf("chef %s: %w", id, model.ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) Employees(ctx context.Context, agencyID string) ([]model.Employee, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Employee, 0)
	for _, e := range s.employees {
		if agencyID == "" || e.AgencyID == agencyID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Matricule < out[j].Matricule })
	return out, nil
}

func (s *MemoryStore) EmployeeByMatricule(ctx context.Context, matricule string) (model.Employee, error) {
	if err := s.wait(ctx); err != nil {
		return model.Employee{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byMatricule[matricule]
	if !ok {
		return model.Employee{}, fmt.Errorf("matricule %s: %w", matricule, model.ErrNotFound)
	}
	return s.employees[id], nil
}

func (s *MemoryStore) Assignment(ctx context.Context, id string) (model.Assignment, error) {
	if err := s.wait(ctx); err != nil {
		return model.Assignment{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return model.Assignment{}, fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	return a, nil
}

func (s *MemoryStore) Assignments(ctx context.Context, agencyID string, r model.DateRange) ([]model.Assignment, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Assignment, 0)
	for _, a := range s.assignments {
		if (agencyID == "" || a.AgencyID == agencyID) && r.Contains(a.Date) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// plannedLocked reports whether employeeID is already planned at agencyID
// on day, ignoring the assignment skip.
func (s *MemoryStore) plannedLocked(day time.Time, agencyID, employeeID, skip string) bool {
	for id, a := range s.assignments {
		if id != skip && a.AgencyID == agencyID && a.EmployeeID == employeeID && a.Date.Equal(day) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) InsertAssignment(ctx context.Context, a model.Assignment) (model.Assignment, error) {
	if err := s.wait(ctx); err != nil {
		return model.Assignment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Date = model.Day(a.Date)
	if s.plannedLocked(a.Date, a.AgencyID, a.EmployeeID, "") {
		return model.Assignment{}, fmt.Errorf("%s at %s on %s: %w",
			a.EmployeeID, a.AgencyID, a.Date.Format(model.DateLayout), model.ErrDuplicateAssignment)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.assignments[a.ID] = a
	return a, nil
}

func (s *MemoryStore) UpdateAssignment(ctx context.Context, id string, p model.AssignmentPatch) (model.Assignment, error) {
	if err := s.wait(ctx); err != nil {
		return model.Assignment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return model.Assignment{}, fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	if p.EmployeeID != nil {
		if s.plannedLocked(a.Date, a.AgencyID, *p.EmployeeID, id) {
			return model.Assignment{}, fmt.Errorf("%s at %s on %s: %w",
				*p.EmployeeID, a.AgencyID, a.Date.Format(model.DateLayout), model.ErrDuplicateAssignment)
		}
		a.EmployeeID = *p.EmployeeID
	}
	if p.IsSubstitute != nil {
		a.IsSubstitute = *p.IsSubstitute
	}
	if p.SubstituteFor != nil {
		a.SubstituteFor = *p.SubstituteFor
	}
	s.assignments[id] = a
	return a, nil
}

func (s *MemoryStore) DeleteAssignment(ctx context.Context, id string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[id]; !ok {
		return fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	delete(s.assignments, id)
	return nil
}

func attendanceKey(matricule string, day time.Time, slot int) string {
	return fmt.Sprintf("%s/%s/%d", matricule, day.Format(model.DateLayout), slot)
}

func (s *MemoryStore) Attendance(ctx context.Context, matricules []string, day time.Time) ([]model.AttendanceRecord, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(matricules))
	for _, m := range matricules {
		want[m] = true
	}
	return s.attendanceWhere(model.Day(day), func(r model.AttendanceRecord) bool { return want[r.Matricule] }), nil
}

func (s *MemoryStore) AttendanceOn(ctx context.Context, day time.Time) ([]model.AttendanceRecord, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.attendanceWhere(model.Day(day), func(model.AttendanceRecord) bool { return true }), nil
}

func (s *MemoryStore) attendanceWhere(day time.Time, keep func(model.AttendanceRecord) bool) []model.AttendanceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AttendanceRecord, 0)
	for _, r := range s.attendance {
		if r.Date.Equal(day) && keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (s *MemoryStore) InsertAttendance(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	if err := s.wait(ctx); err != nil {
		return model.AttendanceRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Date = model.Day(rec.Date)
	key := attendanceKey(rec.Matricule, rec.Date, rec.SlotIndex)
	if _, dup := s.attendance[key]; dup {
		return model.AttendanceRecord{}, fmt.Errorf("%s: %w", key, model.ErrDuplicateAttendance)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.attendance[key] = rec
	return rec, nil
}

func (s *MemoryStore) OpenConnection(ctx context.Context, c model.ConnectionLog) (model.ConnectionLog, error) {
	if err := s.wait(ctx); err != nil {
		return model.ConnectionLog{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.connections = append(s.connections, c)
	return c, nil
}

// CloseConnection stamps every open connection of chefID.
func (s *MemoryStore) CloseConnection(ctx context.Context, chefID string, at time.Time) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.connections {
		if s.connections[i].ChefID == chefID && s.connections[i].DisconnectedAt == nil {
			t := at
			s.connections[i].DisconnectedAt = &t
		}
	}
	return nil
}

// Connections returns a copy of the connection log.
func (s *MemoryStore) Connections() []model.ConnectionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ConnectionLog(nil), s.connections...)
}

func (s *MemoryStore) Setting(ctx context.Context, key string) ([]byte, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	if !ok {
		return nil, fmt.Errorf("setting %s: %w", key, model.ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) PutSetting(ctx context.Context, key string, value []byte) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return s.wait(ctx) }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
