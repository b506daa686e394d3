// Package session owns the lifetime of delegated supervisory logins: the
// idle watchdog, the explicit session context handed to other components,
// and the manager that starts and ends sessions.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Phase is the watchdog state.
type Phase int

const (
	Active Phase = iota
	Warning
	Expired
)

func (p Phase) String() string {
	switch p {
	case Active:
		return "active"
	case Warning:
		return "warning"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

const defaultWarningLead = 2 * time.Minute

// Watchdog expires an idle session. It keeps an absolute deadline so that
// polling frequency never affects when it fires.
type Watchdog struct {
	mu sync.Mutex

	duration time.Duration
	lead     time.Duration
	clock    func() time.Time
	first    time.Duration

	deadline time.Time
	phase    Phase
	warned   bool
	stopped  bool

	onWarning func(remaining time.Duration)
	onExpire  func()
}

// WatchdogOption configures a Watchdog.
type WatchdogOption func(*Watchdog)

// WithWarningLead sets how long before expiry the warning fires. Zero
// disables the warning; a negative lead keeps the default.
func WithWarningLead(lead time.Duration) WatchdogOption {
	return func(w *Watchdog) {
		if lead >= 0 {
			w.lead = lead
		}
	}
}

// WithRemaining starts the watchdog with less than a full duration left,
// as when a session is restored from its store.
func WithRemaining(d time.Duration) WatchdogOption {
	return func(w *Watchdog) { w.first = d }
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) WatchdogOption {
	return func(w *Watchdog) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// OnWarning registers the callback fired once per warning window.
func OnWarning(fn func(remaining time.Duration)) WatchdogOption {
	return func(w *Watchdog) { w.onWarning = fn }
}

// OnExpire registers the callback fired exactly once at expiry.
func OnExpire(fn func()) WatchdogOption {
	return func(w *Watchdog) { w.onExpire = fn }
}

// NewWatchdog arms a watchdog expiring after duration of inactivity.
func NewWatchdog(duration time.Duration, opts ...WatchdogOption) *Watchdog {
	w := &Watchdog{
		duration: duration,
		lead:     defaultWarningLead,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.lead > w.duration {
		w.lead = w.duration
	}
	left := w.duration
	if w.first > 0 && w.first < left {
		left = w.first
	}
	w.deadline = w.clock().Add(left)
	return w
}

// ResetTimer records activity and pushes the deadline to now+duration.
// It returns false once the session has expired or the watchdog is stopped.
func (w *Watchdog) ResetTimer() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.phase == Expired || w.stopped {
		return false
	}
	w.deadline = w.clock().Add(w.duration)
	w.phase = Active
	w.warned = false
	return true
}

// Tick evaluates the deadline and fires the due callback. Callbacks run
// outside the watchdog lock.
func (w *Watchdog) Tick() Phase {
	w.mu.Lock()
	if w.stopped || w.phase == Expired {
		p := w.phase
		w.mu.Unlock()
		return p
	}

	remaining := w.deadline.Sub(w.clock())
	var fire func()
	switch {
	case remaining <= 0:
		w.phase = Expired
		fire = w.onExpire
	case remaining <= w.lead && !w.warned:
		w.phase = Warning
		w.warned = true
		if cb := w.onWarning; cb != nil {
			fire = func() { cb(remaining) }
		}
	}
	p := w.phase
	w.mu.Unlock()

	if fire != nil {
		fire()
	}
	return p
}

// Phase returns the current phase without evaluating the deadline.
func (w *Watchdog) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// Deadline returns the instant the session expires if left idle.
func (w *Watchdog) Deadline() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deadline
}

// Remaining returns the idle time left, never negative.
func (w *Watchdog) Remaining() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.phase == Expired {
		return 0
	}
	return max(0, w.deadline.Sub(w.clock()))
}

// RemainingString formats Remaining as MM:SS.
func (w *Watchdog) RemainingString() string {
	return FormatRemaining(w.Remaining())
}

// FormatRemaining renders d as MM:SS, dropping partial seconds.
func FormatRemaining(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// Stop disarms the watchdog. No callback fires afterwards.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
}

// Run ticks every interval until ctx is done, the session expires or Stop is called.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.Tick() == Expired {
				return
			}
			w.mu.Lock()
			stopped := w.stopped
			w.mu.Unlock()
			if stopped {
				return
			}
		}
	}
}
