package config

import (
	"fmt"
	"time"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/internal/domain/slots"
)

// GeneralKey is the gateway key the editable settings are stored under.
const GeneralKey = "general"

// General is the part of the configuration an administrator edits at
// runtime. It is persisted as JSON and laid over the process configuration.
// Zero fields keep the configured value.
type General struct {
	Slots            []slots.Window `json:"slots,omitempty"`
	SessionMinutes   int            `json:"session_minutes,omitempty"`
	SessionOverrides map[string]int `json:"session_overrides,omitempty"`
	LogoutMessage    string         `json:"logout_message,omitempty"`
}

// Apply returns base with g laid over it.
func (g General) Apply(base model.Settings) (model.Settings, error) {
	out := base
	if len(g.Slots) > 0 {
		parsed, err := slots.Parse(g.Slots)
		if err != nil {
			return base, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		out.Slots = parsed
	}
	if g.SessionMinutes < 0 {
		return base, fmt.Errorf("%w: session_minutes must not be negative", ErrInvalidConfig)
	}
	if g.SessionMinutes > 0 {
		out.SessionDuration = time.Duration(g.SessionMinutes) * time.Minute
	}
	if len(g.SessionOverrides) > 0 {
		out.SessionOverrides = make(map[string]time.Duration, len(g.SessionOverrides))
		for chef, minutes := range g.SessionOverrides {
			if minutes <= 0 {
				return base, fmt.Errorf("%w: session override for %s must be positive", ErrInvalidConfig, chef)
			}
			out.SessionOverrides[chef] = time.Duration(minutes) * time.Minute
		}
	}
	if g.LogoutMessage != "" {
		out.LogoutMessage = g.LogoutMessage
	}
	return out, nil
}

// GeneralOf renders the editable part of s.
func GeneralOf(s model.Settings) General {
	g := General{
		Slots:          slots.Format(s.Slots),
		SessionMinutes: int(s.SessionDuration / time.Minute),
		LogoutMessage:  s.LogoutMessage,
	}
	if len(s.SessionOverrides) > 0 {
		g.SessionOverrides = make(map[string]int, len(s.SessionOverrides))
		for chef, d := range s.SessionOverrides {
			g.SessionOverrides[chef] = int(d / time.Minute)
		}
	}
	return g
}
