// Package clockin drives one employee at a time through identification,
// verification, signature and confirmation before an attendance record is
// written for the active time slot.
package clockin

import (
	"context"
	"fmt"
	"time"

	"github.com/pmuci/pointage/internal/domain/ledger"
	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/internal/domain/session"
)

// State is a step of the clock-in flow. A successful commit returns the
// machine to Identification.
type State int

const (
	Identification State = iota
	VerificationPending
	Verified
	Signed
	Confirmable
)

func (s State) String() string {
	switch s {
	case Identification:
		return "identification"
	case VerificationPending:
		return "verification_pending"
	case Verified:
		return "verified"
	case Signed:
		return "signed"
	case Confirmable:
		return "confirmable"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Reasons reported with an Eligibility.
const (
	ReasonReady           = "ready for slot %d"
	ReasonNoSlot          = "no active time slot"
	ReasonAlreadyRecorded = "already recorded for this slot"
	ReasonLedger          = "attendance ledger unavailable"
	ReasonSessionExpired  = "supervisory session expired"
)

// Eligibility is the commit decision taken on entering Confirmable.
type Eligibility struct {
	CanCommit bool      `json:"can_commit"`
	SlotIndex int       `json:"slot_index"`
	Reason    string    `json:"reason"`
	CheckedAt time.Time `json:"checked_at"`
}

// Scope is the agency an attempt clocks against, and the supervisory
// session it runs under when there is one.
type Scope struct {
	AgencyID string
	Session  *session.Context
}

// ScopeFor picks the active agency: the chef's session when alive, else the
// central agency when centralised clocking is enabled.
func ScopeFor(sc *session.Context, s model.Settings) (Scope, error) {
	if sc.Valid() {
		return Scope{AgencyID: sc.AgencyID(), Session: sc}, nil
	}
	if s.CentralisedClocking && s.CentralAgencyID != "" {
		return Scope{AgencyID: s.CentralAgencyID}, nil
	}
	return Scope{}, model.ErrNoActiveAgency
}

func (s Scope) sessionID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.Session.ID
}

// Gateway is the persistence the machine reads and writes.
type Gateway interface {
	EmployeeByMatricule(ctx context.Context, matricule string) (model.Employee, error)
	Assignments(ctx context.Context, agencyID string, r model.DateRange) ([]model.Assignment, error)
	InsertAttendance(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error)
}

// Ledger reports existing attendance. *ledger.Query satisfies it.
type Ledger interface {
	AttendanceFor(ctx context.Context, matricules []string, day time.Time) (map[string][]ledger.Entry, error)
}

// Notifier receives user-facing alerts.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// View is a read-only snapshot of a kiosk's attempt.
type View struct {
	KioskID     string       `json:"kiosk_id"`
	AttemptID   string       `json:"attempt_id"`
	State       State        `json:"state"`
	AgencyID    string       `json:"agency_id,omitempty"`
	Matricule   string       `json:"matricule,omitempty"`
	Employee    string       `json:"employee,omitempty"`
	Verified    bool         `json:"verified"`
	Signed      bool         `json:"signed"`
	Eligibility *Eligibility `json:"eligibility,omitempty"`
	AutoCommit  *time.Time   `json:"auto_commit_at,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
}
