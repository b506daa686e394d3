package model

import "errors"

// Error taxonomy shared by the clock-in, planning and session flows.
var (
	ErrUnknownMatricule    = errors.New("unknown matricule")
	ErrNotScheduledToday   = errors.New("not scheduled today")
	ErrVerificationFailed  = errors.New("verification failed")
	ErrLedgerUnavailable   = errors.New("ledger unavailable")
	ErrDuplicateAttendance = errors.New("attendance already recorded")
	ErrSessionExpired      = errors.New("session expired")

	ErrNotFound            = errors.New("not found")
	ErrDuplicateAssignment = errors.New("employee already planned")
	ErrEmployeeUnavailable = errors.New("employee unavailable")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrSignatureRequired   = errors.New("signature required")
	ErrCommitNotAllowed    = errors.New("commit not allowed")
	ErrSlotChanged         = errors.New("active slot changed")
	ErrNoActiveAgency      = errors.New("no active agency")
	ErrInvalidInput        = errors.New("invalid input")
)

// SeverityOf maps an error to the severity of the notification it raises.
func SeverityOf(err error) Severity {
	switch {
	case err == nil:
		return SeveritySuccess
	case errors.Is(err, ErrUnknownMatricule),
		errors.Is(err, ErrNotScheduledToday),
		errors.Is(err, ErrVerificationFailed),
		errors.Is(err, ErrDuplicateAttendance),
		errors.Is(err, ErrSignatureRequired),
		errors.Is(err, ErrSlotChanged),
		errors.Is(err, ErrCommitNotAllowed),
		errors.Is(err, ErrInvalidInput):
		return SeverityWarning
	default:
		return SeverityDestructive
	}
}
