// Package repository is the persistence gateway: agencies, staff, planning,
// attendance, connection logs and application settings.
package repository

import (
	"context"
	"time"

	"github.com/pmuci/pointage/internal/domain/model"
)

// Gateway provides read/write access to everything the service persists.
// Implementations report a missing row with model.ErrNotFound, a second
// (date, agency, employee) assignment with model.ErrDuplicateAssignment and
// a second (matricule, date, slot) record with model.ErrDuplicateAttendance.
type Gateway interface {
	Agencies(ctx context.Context) ([]model.Agency, error)
	Agency(ctx context.Context, id string) (model.Agency, error)
	Chefs(ctx context.Context) ([]model.Chef, error)
	Chef(ctx context.Context, id string) (model.Chef, error)

	// Employees lists the staff of agencyID, or everyone when it is empty.
	Employees(ctx context.Context, agencyID string) ([]model.Employee, error)
	EmployeeByMatricule(ctx context.Context, matricule string) (model.Employee, error)

	Assignment(ctx context.Context, id string) (model.Assignment, error)
	// Assignments lists assignments dated within r for agencyID, or for
	// every agency when it is empty.
	Assignments(ctx context.Context, agencyID string, r model.DateRange) ([]model.Assignment, error)
	InsertAssignment(ctx context.Context, a model.Assignment) (model.Assignment, error)
	UpdateAssignment(ctx context.Context, id string, p model.AssignmentPatch) (model.Assignment, error)
	DeleteAssignment(ctx context.Context, id string) error

	// Attendance returns the records of day for the given matricules.
	Attendance(ctx context.Context, matricules []string, day time.Time) ([]model.AttendanceRecord, error)
	// AttendanceOn returns every record of day.
	AttendanceOn(ctx context.Context, day time.Time) ([]model.AttendanceRecord, error)
	InsertAttendance(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error)

	OpenConnection(ctx context.Context, c model.ConnectionLog) (model.ConnectionLog, error)
	CloseConnection(ctx context.Context, chefID string, at time.Time) error

	// Setting returns the raw JSON stored under key.
	Setting(ctx context.Context, key string) ([]byte, error)
	PutSetting(ctx context.Context, key string, value []byte) error

	Ping(ctx context.Context) error
	Close() error
}
