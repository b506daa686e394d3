// Package slots resolves which daily clock-in window is open at a given time.
package slots

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pmuci/pointage/internal/domain/model"
)

// None is returned by ActiveIndex when no slot is open.
const None = -1

const minutesPerDay = 24 * 60

// Window is the textual form of a slot as written in configuration.
type Window struct {
	Start string `koanf:"start" json:"start"`
	End   string `koanf:"end" json:"end"`
}

// MinuteOfDay converts t to minutes since midnight in t's location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// ActiveIndex returns the first slot containing now, or None.
func ActiveIndex(now time.Time, slots []model.Slot) int {
	m := MinuteOfDay(now)
	for i, s := range slots {
		if s.Contains(m) {
			return i
		}
	}
	return None
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: clock %q", ErrInvalidSlot, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: hour in %q", ErrInvalidSlot, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: minute in %q", ErrInvalidSlot, s)
	}
	return h*60 + m, nil
}

// Parse converts configured windows to slots and checks that they are
// well formed, ordered and non-overlapping.
func Parse(windows []Window) ([]model.Slot, error) {
	out := make([]model.Slot, 0, len(windows))
	for i, w := range windows {
		start, err := ParseClock(w.Start)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		end, err := ParseClock(w.End)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		out = append(out, model.Slot{Start: start, End: end})
	}
	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks slot bounds, order and overlap.
func Validate(slots []model.Slot) error {
	for i, s := range slots {
		if s.Start < 0 || s.End >= minutesPerDay || s.Start >= s.End {
			return fmt.Errorf("%w: slot %d %s", ErrInvalidSlot, i, s)
		}
		if i > 0 && s.Start <= slots[i-1].End {
			return fmt.Errorf("%w: slot %d %s overlaps or precedes slot %d %s",
				ErrInvalidSlot, i, s, i-1, slots[i-1])
		}
	}
	return nil
}

// Format renders slots back to their configuration form.
func Format(slots []model.Slot) []Window {
	out := make([]Window, len(slots))
	for i, s := range slots {
		out[i] = Window{
			Start: fmt.Sprintf("%02d:%02d", s.Start/60, s.Start%60),
			End:   fmt.Sprintf("%02d:%02d", s.End/60, s.End%60),
		}
	}
	return out
}
