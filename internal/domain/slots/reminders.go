package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/pmuci/pointage/internal/domain/dedupe"
	"github.com/pmuci/pointage/internal/domain/model"
)

// ReminderKind tells whether a reminder announces a slot opening or closing.
type ReminderKind string

const (
	ReminderStart ReminderKind = "start"
	ReminderEnd   ReminderKind = "end"
)

// Reminder is a due slot announcement. Lead is the time left before the
// slot closes, for closing reminders.
type Reminder struct {
	Kind  ReminderKind
	Index int
	Slot  model.Slot
	Lead  time.Duration
}

// Notification renders the reminder for the notification sink.
func (r Reminder) Notification(at time.Time) model.Notification {
	n := model.Notification{
		Severity: model.SeverityDefault,
		Topic:    "reminder",
		At:       at,
	}
	switch r.Kind {
	case ReminderStart:
		n.Title = "Clock-in slot open"
		n.Message = fmt.Sprintf("Slot %d (%s) is open, employees can clock in now.", r.Index+1, r.Slot)
	case ReminderEnd:
		n.Title = "Clock-in slot closing"
		n.Message = fmt.Sprintf("Slot %d (%s) closes in %d minutes.", r.Index+1, r.Slot, int(r.Lead.Minutes()))
	}
	return n
}

// Reminders decides which slot reminders are due, each at most once per day.
type Reminders struct {
	atStart   bool
	beforeEnd bool
	lead      int
	fired     dedupe.Deduper
}

// NewReminders builds a reminder schedule. lead is how long before a slot's
// end the closing reminder fires.
func NewReminders(atStart, beforeEnd bool, lead time.Duration, fired dedupe.Deduper) *Reminders {
	if fired == nil {
		fired = dedupe.NewInMemoryDeduper()
	}
	return &Reminders{
		atStart:   atStart,
		beforeEnd: beforeEnd,
		lead:      int(lead / time.Minute),
		fired:     fired,
	}
}

// closingLead is the lead used for s. A lead as long as the slot would
// announce the closing at or before the opening, so it is shortened to
// leave the opening minute alone.
func (r *Reminders) closingLead(s model.Slot) int {
	return max(min(r.lead, s.End-s.Start-1), 0)
}

// Due returns the reminders whose minute is now and that did not fire yet today.
func (r *Reminders) Due(ctx context.Context, now time.Time, slots []model.Slot) []Reminder {
	m := MinuteOfDay(now)
	day := now.Format(model.DateLayout)

	var due []Reminder
	for i, s := range slots {
		if r.atStart && m == s.Start && r.claim(ctx, day, ReminderStart, i) {
			due = append(due, Reminder{Kind: ReminderStart, Index: i, Slot: s})
		}
		lead := r.closingLead(s)
		if r.beforeEnd && m == s.End-lead && r.claim(ctx, day, ReminderEnd, i) {
			due = append(due, Reminder{Kind: ReminderEnd, Index: i, Slot: s, Lead: time.Duration(lead) * time.Minute})
		}
	}
	return due
}

func (r *Reminders) claim(ctx context.Context, day string, kind ReminderKind, index int) bool {
	return !r.fired.SeenAndRecord(ctx, fmt.Sprintf("%s/%s/%d", day, kind, index))
}
