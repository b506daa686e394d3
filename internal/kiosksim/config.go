package kiosksim

import "time"

// Config holds the settings of one simulation run.
type Config struct {
	BaseURL        string        // Base URL of the service
	ChefID         string        // Chef whose session scopes the kiosks
	Kiosks         int           // Number of kiosks clocking in concurrently
	Rounds         int           // Passes over the roster; later passes hit recorded slots
	VerifyAttempts int           // Biometric captures tried before giving up
	Timeout        time.Duration // HTTP request timeout
	OutputFile     string        // Report file
	LogFile        string        // Log file for run output
	Verbose        bool          // Log every attempt
}

// Outcome is how one clock-in attempt ended.
type Outcome string

const (
	OutcomeCommitted       Outcome = "committed"
	OutcomeAlreadyRecorded Outcome = "already_recorded"
	OutcomeRefused         Outcome = "refused"
	OutcomeFailed          Outcome = "failed"
)

// Attempt is one employee walking through one kiosk.
type Attempt struct {
	Round     int           `json:"round"`
	KioskID   string        `json:"kiosk_id"`
	Matricule string        `json:"matricule"`
	Outcome   Outcome       `json:"outcome"`
	Step      string        `json:"step,omitempty"`
	Code      string        `json:"code,omitempty"`
	SlotIndex *int          `json:"slot_index,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Report is what a run writes to its output file.
type Report struct {
	RunID    string    `json:"run_id"`
	AgencyID string    `json:"agency_id"`
	Date     string    `json:"date"`
	Stats    Stats     `json:"stats"`
	Attempts []Attempt `json:"attempts"`
}

// Stats holds run statistics.
type Stats struct {
	RosterSize      int           `json:"roster_size"`
	ActiveSlot      int           `json:"active_slot"`
	Attempts        int           `json:"attempts"`
	Committed       int           `json:"committed"`
	AlreadyRecorded int           `json:"already_recorded"`
	Refused         int           `json:"refused"`
	Failed          int           `json:"failed"`
	Confirmed       int           `json:"confirmed"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	Duration        time.Duration `json:"duration"`
}

func (s *Stats) count(a Attempt) {
	s.Attempts++
	switch a.Outcome {
	case OutcomeCommitted:
		s.Committed++
	case OutcomeAlreadyRecorded:
		s.AlreadyRecorded++
	case OutcomeRefused:
		s.Refused++
	default:
		s.Failed++
	}
}

// Wire shapes of the service responses the simulator reads.

type sessionResponse struct {
	Token   string `json:"token"`
	Session struct {
		ID       string `json:"id"`
		AgencyID string `json:"agency_id"`
	} `json:"session"`
}

type todayResponse struct {
	AgencyID   string `json:"agency_id"`
	Date       string `json:"date"`
	ActiveSlot int    `json:"active_slot"`
	Roster     []struct {
		Employee struct {
			Matricule string `json:"matricule"`
		} `json:"employee"`
	} `json:"roster"`
}

type commitResponse struct {
	Record struct {
		Matricule string `json:"matricule"`
		SlotIndex int    `json:"slot_index"`
	} `json:"record"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ledgerEntry struct {
	SlotIndex int       `json:"slot_index"`
	Timestamp time.Time `json:"timestamp"`
}
