package model

import "time"

// Severity drives how a notification is rendered.
type Severity string

const (
	SeverityDefault     Severity = "default"
	SeveritySuccess     Severity = "success"
	SeverityWarning     Severity = "warning"
	SeverityDestructive Severity = "destructive"
)

// Notification is a user-facing alert.
type Notification struct {
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity"`
	DurationMs int64    `json:"duration_ms,omitempty"`
	// Topic groups notifications, e.g. "clockin", "session", "reminder".
	Topic    string    `json:"topic,omitempty"`
	AgencyID string    `json:"agency_id,omitempty"`
	At       time.Time `json:"at"`
}
