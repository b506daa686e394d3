package model

import "time"

// Settings is the application-wide configuration the domain reads.
type Settings struct {
	Slots            []Slot                   `json:"slots"`
	SessionDuration  time.Duration            `json:"session_duration"`
	SessionOverrides map[string]time.Duration `json:"session_overrides,omitempty"`
	WarningLead      time.Duration            `json:"warning_lead"`
	LogoutMessage    string                   `json:"logout_message"`

	ReminderAtStart   bool          `json:"reminder_at_start"`
	ReminderBeforeEnd bool          `json:"reminder_before_end"`
	ReminderLead      time.Duration `json:"reminder_lead"`

	CentralisedClocking bool   `json:"centralised_clocking"`
	CentralAgencyID     string `json:"central_agency_id,omitempty"`
}

// SessionDurationFor resolves a chef's session length, falling back to the default.
func (s Settings) SessionDurationFor(chefID string) time.Duration {
	if d, ok := s.SessionOverrides[chefID]; ok && d > 0 {
		return d
	}
	return s.SessionDuration
}
