// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and storage form of a calendar day.
const DateLayout = "2006-01-02"

// Availability is an employee's staffing status.
type Availability string

const (
	Available Availability = "available"
	Absent    Availability = "absent"
	Suspended Availability = "suspended"
)

// Agency is a branch that must be staffed every day.
type Agency struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	RequiredTerminals int    `json:"required_terminals"`
}

// Employee is a counter clerk who clocks in at an agency.
type Employee struct {
	ID           string       `json:"id"`
	Matricule    string       `json:"matricule"`
	FirstName    string       `json:"first_name"`
	LastName     string       `json:"last_name"`
	AgencyID     string       `json:"agency_id"`
	Availability Availability `json:"availability"`
	// UnavailableFrom and UnavailableTo bound an absence or suspension, inclusive.
	UnavailableFrom *time.Time `json:"unavailable_from,omitempty"`
	UnavailableTo   *time.Time `json:"unavailable_to,omitempty"`
}

// FullName returns "first last".
func (e Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// AvailableOn reports whether the employee may be planned on day.
// An absence without an interval blocks every day.
func (e Employee) AvailableOn(day time.Time) bool {
	if e.Availability == Available || e.Availability == "" {
		return true
	}
	if e.UnavailableFrom == nil || e.UnavailableTo == nil {
		return false
	}
	d := Day(day)
	return d.Before(Day(*e.UnavailableFrom)) || d.After(Day(*e.UnavailableTo))
}

// Chef is the supervisor in charge of an agency.
type Chef struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	AgencyID  string `json:"agency_id"`
}

// FullName returns "first last".
func (c Chef) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Assignment plans one employee at one agency for one day.
type Assignment struct {
	ID            string    `json:"id"`
	Date          time.Time `json:"date"`
	AgencyID      string    `json:"agency_id"`
	EmployeeID    string    `json:"employee_id"`
	ChefID        string    `json:"chef_id,omitempty"`
	IsSubstitute  bool      `json:"is_substitute"`
	SubstituteFor string    `json:"substitute_for,omitempty"`
}

// AssignmentPatch lists the fields an update may change. Nil fields are kept.
type AssignmentPatch struct {
	EmployeeID    *string
	IsSubstitute  *bool
	SubstituteFor *string
}

// Slot is a daily clock-in window in minutes since midnight, inclusive at both ends.
type Slot struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether minute falls inside the slot.
func (s Slot) Contains(minute int) bool {
	return s.Start <= minute && minute <= s.End
}

func (s Slot) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", s.Start/60, s.Start%60, s.End/60, s.End%60)
}

// AttendanceRecord is one clock-in, unique per (matricule, date, slot index).
type AttendanceRecord struct {
	ID        string    `json:"id"`
	Matricule string    `json:"matricule"`
	Date      time.Time `json:"date"`
	AgencyID  string    `json:"agency_id"`
	SlotIndex int       `json:"slot_index"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a delegated supervisory login.
type Session struct {
	ID       string        `json:"id"`
	ChefID   string        `json:"chef_id"`
	AgencyID string        `json:"agency_id"`
	IssuedAt time.Time     `json:"issued_at"`
	Duration time.Duration `json:"duration"`
}

// ConnectionLog tracks when a chef logged in and out.
type ConnectionLog struct {
	ID             string     `json:"id"`
	ChefID         string     `json:"chef_id"`
	AgencyID       string     `json:"agency_id"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
}

// Day truncates t to its calendar date, expressed at UTC midnight so that
// days compare and key the same whatever zone they were read in.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidInput, s)
	}
	return t, nil
}

// DateRange is an inclusive span of calendar days. A range whose end is
// before its start is empty.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange normalises both bounds to calendar days.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: Day(start), End: Day(end)}
}

// Len returns the number of calendar days in the range.
func (r DateRange) Len() int {
	s, e := dayNumber(r.Start), dayNumber(r.End)
	if e < s {
		return 0
	}
	return int(e-s) + 1
}

// dayNumber counts whole days since the Unix epoch for t's calendar date.
func dayNumber(t time.Time) int64 {
	return Day(t).Unix() / 86400
}

// Days lists every day of the range in order.
func (r DateRange) Days() []time.Time {
	n := r.Len()
	out := make([]time.Time, 0, n)
	s := Day(r.Start)
	for i := 0; i < n; i++ {
		out = append(out, s.AddDate(0, 0, i))
	}
	return out
}

// Contains reports whether day lies inside the range.
func (r DateRange) Contains(day time.Time) bool {
	d := Day(day)
	return !d.Before(Day(r.Start)) && !d.After(Day(r.End))
}
