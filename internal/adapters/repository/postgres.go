package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/pmuci/pointage/internal/domain/model"
)

// Schema creates every table the PostgresStore uses. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS agencies (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	required_terminals INTEGER NOT NULL DEFAULT 1 CHECK (required_terminals >= 0)
);

CREATE TABLE IF NOT EXISTS chefs (
	id         TEXT PRIMARY KEY,
	first_name TEXT NOT NULL,
	last_name  TEXT NOT NULL,
	agency_id  TEXT NOT NULL REFERENCES agencies(id)
);

CREATE TABLE IF NOT EXISTS employees (
	id               TEXT PRIMARY KEY,
	matricule        TEXT NOT NULL UNIQUE,
	first_name       TEXT NOT NULL,
	last_name        TEXT NOT NULL,
	agency_id        TEXT NOT NULL REFERENCES agencies(id),
	availability     TEXT NOT NULL DEFAULT 'available',
	unavailable_from DATE,
	unavailable_to   DATE
);

CREATE TABLE IF NOT EXISTS assignments (
	id             TEXT PRIMARY KEY,
	date           DATE NOT NULL,
	agency_id      TEXT NOT NULL REFERENCES agencies(id),
	employee_id    TEXT NOT NULL REFERENCES employees(id),
	chef_id        TEXT NOT NULL DEFAULT '',
	is_substitute  BOOLEAN NOT NULL DEFAULT FALSE,
	substitute_for TEXT NOT NULL DEFAULT '',
	UNIQUE (date, agency_id, employee_id)
);
CREATE INDEX IF NOT EXISTS assignments_agency_date ON assignments (agency_id, date);

CREATE TABLE IF NOT EXISTS attendance (
	id          TEXT PRIMARY KEY,
	matricule   TEXT NOT NULL,
	date        DATE NOT NULL,
	agency_id   TEXT NOT NULL,
	slot_index  INTEGER NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	UNIQUE (matricule, date, slot_index)
);

CREATE TABLE IF NOT EXISTS connection_logs (
	id              TEXT PRIMARY KEY,
	chef_id         TEXT NOT NULL,
	agency_id       TEXT NOT NULL,
	connected_at    TIMESTAMPTZ NOT NULL,
	disconnected_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS app_settings (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const uniqueViolation = "23505"

// PostgresStore persists the gateway in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Gateway = (*PostgresStore)(nil)

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens dsn with the lib/pq driver and checks connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(db), nil
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Seed upserts the fixture's agencies, chefs and staff and plans its
// assignments. Assignments already present are kept, so seeding twice is
// harmless.
func (s *PostgresStore) Seed(ctx context.Context, f Fixture) error {
	for _, a := range f.Agencies {
		if err := s.SaveAgency(ctx, model.Agency{ID: a.ID, Name: a.Name, RequiredTerminals: a.RequiredTerminals}); err != nil {
			return err
		}
	}
	for _, c := range f.Chefs {
		if err := s.SaveChef(ctx, model.Chef{ID: c.ID, FirstName: c.FirstName, LastName: c.LastName, AgencyID: c.AgencyID}); err != nil {
			return err
		}
	}
	for _, fe := range f.Employees {
		e, err := fe.model()
		if err != nil {
			return err
		}
		if err := s.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}
	for _, fa := range f.Assignments {
		d, err := model.ParseDay(fa.Date)
		if err != nil {
			return fmt.Errorf("assignment of %s: %w", fa.EmployeeID, err)
		}
		_, err = s.InsertAssignment(ctx, model.Assignment{
			Date:       d,
			AgencyID:   fa.AgencyID,
			EmployeeID: fa.EmployeeID,
			ChefID:     fa.ChefID,
		})
		if err != nil && !errors.Is(err, model.ErrDuplicateAssignment) {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func day(t time.Time) string { return model.Day(t).Format(model.DateLayout) }

func (s *PostgresStore) Agencies(ctx context.Context) ([]model.Agency, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, required_terminals FROM agencies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agencies: %w", err)
	}
	defer rows.Close()

	var out []model.Agency
	for rows.Next() {
		var a model.Agency
		if err := rows.Scan(&a.ID, &a.Name, &a.RequiredTerminals); err != nil {
			return nil, fmt.Errorf("scan agency: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Agency(ctx context.Context, id string) (model.Agency, error) {
	var a model.Agency
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, required_terminals FROM agencies WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.RequiredTerminals)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Agency{}, fmt.Errorf("agency %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Agency{}, fmt.Errorf("find agency: %w", err)
	}
	return a, nil
}

// SaveAgency inserts or updates an agency.
func (s *PostgresStore) SaveAgency(ctx context.Context, a model.Agency) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agencies (id, name, required_terminals)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			required_terminals = EXCLUDED.required_terminals
	`, a.ID, a.Name, a.RequiredTerminals)
	if err != nil {
		return fmt.Errorf("save agency: %w", err)
	}
	return nil
}

func (s *PostgresStore) Chefs(ctx context.Context) ([]model.Chef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, first_name, last_name, agency_id FROM chefs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list chefs: %w", err)
	}
	defer rows.Close()

	var out []model.Chef
	for rows.Next() {
		var c model.Chef
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.AgencyID); err != nil {
			return nil, fmt.Errorf("scan chef: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Chef(ctx context.Context, id string) (model.Chef, error) {
	var c model.Chef
	err := s.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, agency_id FROM chefs WHERE id = $1`, id,
	).Scan(&c.ID, &c.FirstName, &c.LastName, &c.AgencyID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Chef{}, fmt.Errorf("chef %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Chef{}, fmt.Errorf("find chef: %w", err)
	}
	return c, nil
}

// SaveChef inserts or updates a chef.
func (s *PostgresStore) SaveChef(ctx context.Context, c model.Chef) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chefs (id, first_name, last_name, agency_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			agency_id = EXCLUDED.agency_id
	`, c.ID, c.FirstName, c.LastName, c.AgencyID)
	if err != nil {
		return fmt.Errorf("save chef: %w", err)
	}
	return nil
}

const employeeColumns = `id, matricule, first_name, last_name, agency_id, availability, unavailable_from, unavailable_to`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(r rowScanner) (model.Employee, error) {
	var (
		e        model.Employee
		avail    string
		from, to sql.NullTime
	)
	if err := r.Scan(&e.ID, &e.Matricule, &e.FirstName, &e.LastName, &e.AgencyID, &avail, &from, &to); err != nil {
		return model.Employee{}, err
	}
	e.Availability = model.Availability(avail)
	if from.Valid {
		t := model.Day(from.Time)
		e.UnavailableFrom = &t
	}
	if to.Valid {
		t := model.Day(to.Time)
		e.UnavailableTo = &t
	}
	return e, nil
}

func (s *PostgresStore) Employees(ctx context.Context, agencyID string) ([]model.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+employeeColumns+` FROM employees
		WHERE $1::text = '' OR agency_id = $1
		ORDER BY matricule
	`, agencyID)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	var out []model.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) EmployeeByMatricule(ctx context.Context, matricule string) (model.Employee, error) {
	e, err := scanEmployee(s.db.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE matricule = $1`, matricule))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Employee{}, fmt.Errorf("matricule %s: %w", matricule, model.ErrNotFound)
	}
	if err != nil {
		return model.Employee{}, fmt.Errorf("find employee: %w", err)
	}
	return e, nil
}

func nullDay(t *time.Time) any {
	if t == nil {
		return nil
	}
	return day(*t)
}

// SaveEmployee inserts or updates an employee.
func (s *PostgresStore) SaveEmployee(ctx context.Context, e model.Employee) error {
	avail := string(e.Availability)
	if avail == "" {
		avail = string(model.Available)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8::date)
		ON CONFLICT (id) DO UPDATE SET
			matricule = EXCLUDED.matricule,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			agency_id = EXCLUDED.agency_id,
			availability = EXCLUDED.availability,
			unavailable_from = EXCLUDED.unavailable_from,
			unavailable_to = EXCLUDED.unavailable_to
	`, e.ID, e.Matricule, e.FirstName, e.LastName, e.AgencyID, avail, nullDay(e.UnavailableFrom), nullDay(e.UnavailableTo))
	if err != nil {
		return fmt.Errorf("save employee: %w", err)
	}
	return nil
}

const assignmentColumns = `id, date, agency_id, employee_id, chef_id, is_substitute, substitute_for`

func scanAssignment(r rowScanner) (model.Assignment, error) {
	var a model.Assignment
	if err := r.Scan(&a.ID, &a.Date, &a.AgencyID, &a.EmployeeID, &a.ChefID, &a.IsSubstitute, &a.SubstituteFor); err != nil {
		return model.Assignment{}, err
	}
	a.Date = model.Day(a.Date)
	return a, nil
}

func (s *PostgresStore) Assignment(ctx context.Context, id string) (model.Assignment, error) {
	a, err := scanAssignment(s.db.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Assignment{}, fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Assignment{}, fmt.Errorf("find assignment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Assignments(ctx context.Context, agencyID string, r model.DateRange) ([]model.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE ($1::text = '' OR agency_id = $1) AND date BETWEEN $2::date AND $3::date
		ORDER BY date, id
	`, agencyID, day(r.Start), day(r.End))
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertAssignment(ctx context.Context, a model.Assignment) (model.Assignment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Date = model.Day(a.Date)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (`+assignmentColumns+`)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7)
	`, a.ID, day(a.Date), a.AgencyID, a.EmployeeID, a.ChefID, a.IsSubstitute, a.SubstituteFor)
	if isUniqueViolation(err) {
		return model.Assignment{}, fmt.Errorf("%s at %s on %s: %w", a.EmployeeID, a.AgencyID, day(a.Date), model.ErrDuplicateAssignment)
	}
	if err != nil {
		return model.Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) UpdateAssignment(ctx context.Context, id string, p model.AssignmentPatch) (model.Assignment, error) {
	a, err := scanAssignment(s.db.QueryRowContext(ctx, `
		UPDATE assignments SET
			employee_id = COALESCE($2, employee_id),
			is_substitute = COALESCE($3, is_substitute),
			substitute_for = COALESCE($4, substitute_for)
		WHERE id = $1
		RETURNING `+assignmentColumns,
		id, nullString(p.EmployeeID), nullBool(p.IsSubstitute), nullString(p.SubstituteFor)))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.Assignment{}, fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	case isUniqueViolation(err):
		return model.Assignment{}, fmt.Errorf("assignment %s: %w", id, model.ErrDuplicateAssignment)
	case err != nil:
		return model.Assignment{}, fmt.Errorf("update assignment: %w", err)
	}
	return a, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullBool(p *bool) sql.NullBool {
	if p == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *p, Valid: true}
}

func (s *PostgresStore) DeleteAssignment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assignments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	return nil
}

const attendanceColumns = `id, matricule, date, agency_id, slot_index, recorded_at`

func (s *PostgresStore) queryAttendance(ctx context.Context, query string, args ...any) ([]model.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var out []model.AttendanceRecord
	for rows.Next() {
		var r model.AttendanceRecord
		if err := rows.Scan(&r.ID, &r.Matricule, &r.Date, &r.AgencyID, &r.SlotIndex, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		r.Date = model.Day(r.Date)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Attendance(ctx context.Context, matricules []string, d time.Time) ([]model.AttendanceRecord, error) {
	return s.queryAttendance(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE date = $1::date AND matricule = ANY($2::text[])
		ORDER BY recorded_at
	`, day(d), pq.Array(matricules))
}

func (s *PostgresStore) AttendanceOn(ctx context.Context, d time.Time) ([]model.AttendanceRecord, error) {
	return s.queryAttendance(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE date = $1::date
		ORDER BY recorded_at
	`, day(d))
}

func (s *PostgresStore) InsertAttendance(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Date = model.Day(rec.Date)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance (`+attendanceColumns+`)
		VALUES ($1, $2, $3::date, $4, $5, $6)
	`, rec.ID, rec.Matricule, day(rec.Date), rec.AgencyID, rec.SlotIndex, rec.Timestamp)
	if isUniqueViolation(err) {
		return model.AttendanceRecord{}, fmt.Errorf("%s on %s slot %d: %w",
			rec.Matricule, day(rec.Date), rec.SlotIndex, model.ErrDuplicateAttendance)
	}
	if err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("insert attendance: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) OpenConnection(ctx context.Context, c model.ConnectionLog) (model.ConnectionLog, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connection_logs (id, chef_id, agency_id, connected_at)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.ChefID, c.AgencyID, c.ConnectedAt)
	if err != nil {
		return model.ConnectionLog{}, fmt.Errorf("open connection: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CloseConnection(ctx context.Context, chefID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE connection_logs SET disconnected_at = $2
		WHERE chef_id = $1 AND disconnected_at IS NULL
	`, chefID, at)
	if err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) Setting(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("setting %s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read setting: %w", err)
	}
	return raw, nil
}

func (s *PostgresStore) PutSetting(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`, key, string(value))
	if err != nil {
		return fmt.Errorf("write setting: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PostgresStore) Close() error { return s.db.Close() }
