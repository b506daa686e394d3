package session

import (
	"time"

	"github.com/pmuci/pointage/internal/domain/model"
)

// Context is the explicit supervisory scope handed to components that act
// on behalf of a chef. A nil *Context means no supervisory session.
type Context struct {
	Session  model.Session
	watchdog *Watchdog
}

// NewContext binds a session to the watchdog that governs it.
func NewContext(s model.Session, w *Watchdog) *Context {
	return &Context{Session: s, watchdog: w}
}

// Valid reports whether the session is still alive.
func (c *Context) Valid() bool {
	if c == nil || c.watchdog == nil {
		return false
	}
	return c.watchdog.Phase() != Expired && c.watchdog.Remaining() > 0
}

// Err returns model.ErrSessionExpired once the session is no longer valid.
func (c *Context) Err() error {
	if c.Valid() {
		return nil
	}
	return model.ErrSessionExpired
}

// AgencyID returns the agency in charge, or "" without a session.
func (c *Context) AgencyID() string {
	if c == nil {
		return ""
	}
	return c.Session.AgencyID
}

// Remaining returns the idle time left.
func (c *Context) Remaining() time.Duration {
	if c == nil || c.watchdog == nil {
		return 0
	}
	return c.watchdog.Remaining()
}

// Touch records activity on the session.
func (c *Context) Touch() bool {
	if c == nil || c.watchdog == nil {
		return false
	}
	return c.watchdog.ResetTimer()
}

// Watchdog exposes the governing watchdog.
func (c *Context) Watchdog() *Watchdog {
	if c == nil {
		return nil
	}
	return c.watchdog
}
