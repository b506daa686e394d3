package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/internal/domain/session"
	"github.com/pmuci/pointage/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// tickFor polls the watchdog once per simulated second.
func tickFor(clock *fakeClock, w *session.Watchdog, d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += time.Second {
		clock.Advance(time.Second)
		w.Tick()
	}
}

func TestWatchdog(t *testing.T) {
	Convey("Given a 30 minute session warned 2 minutes ahead", t, func() {
		clock := newFakeClock()
		var warnings, expiries int
		var warnedWith time.Duration
		w := session.NewWatchdog(30*time.Minute,
			session.WithClock(clock.Now),
			session.WithWarningLead(2*time.Minute),
			session.OnWarning(func(r time.Duration) { warnings++; warnedWith = r }),
			session.OnExpire(func() { expiries++ }),
		)

		Convey("It stays active until minute 28", func() {
			tickFor(clock, w, 28*time.Minute-time.Second)
			So(w.Phase(), ShouldEqual, session.Active)
			So(w.RemainingString(), ShouldEqual, "02:01")
			So(warnings, ShouldEqual, 0)
		})

		Convey("It warns exactly once at minute 28", func() {
			tickFor(clock, w, 28*time.Minute)
			So(w.Phase(), ShouldEqual, session.Warning)
			So(warnings, ShouldEqual, 1)
			So(warnedWith, ShouldEqual, 2*time.Minute)

			tickFor(clock, w, time.Minute)
			So(warnings, ShouldEqual, 1)
		})

		Convey("It expires exactly once at minute 30", func() {
			tickFor(clock, w, 30*time.Minute-time.Second)
			So(expiries, ShouldEqual, 0)
			tickFor(clock, w, time.Second)
			So(w.Phase(), ShouldEqual, session.Expired)
			So(expiries, ShouldEqual, 1)
			So(w.RemainingString(), ShouldEqual, "00:00")

			tickFor(clock, w, 5*time.Minute)
			So(expiries, ShouldEqual, 1)
		})

		Convey("Activity before expiry restarts the full duration", func() {
			tickFor(clock, w, 29*time.Minute)
			So(w.Phase(), ShouldEqual, session.Warning)

			So(w.ResetTimer(), ShouldBeTrue)
			So(w.Phase(), ShouldEqual, session.Active)
			So(w.Deadline(), ShouldEqual, clock.Now().Add(30*time.Minute))

			tickFor(clock, w, 28*time.Minute)
			So(warnings, ShouldEqual, 2)
			So(expiries, ShouldEqual, 0)
		})

		Convey("Activity after expiry is refused", func() {
			tickFor(clock, w, 30*time.Minute)
			So(w.ResetTimer(), ShouldBeFalse)
			So(w.Phase(), ShouldEqual, session.Expired)
		})

		Convey("A stopped watchdog never fires", func() {
			w.Stop()
			tickFor(clock, w, 31*time.Minute)
			So(warnings, ShouldEqual, 0)
			So(expiries, ShouldEqual, 0)
		})

		Convey("Sparse polling does not shift the deadline", func() {
			clock.Advance(29*time.Minute + 59*time.Second)
			So(w.Tick(), ShouldEqual, session.Warning)
			clock.Advance(time.Second)
			So(w.Tick(), ShouldEqual, session.Expired)
		})
	})

	Convey("FormatRemaining drops partial seconds", t, func() {
		So(session.FormatRemaining(90*time.Second+200*time.Millisecond), ShouldEqual, "01:30")
		So(session.FormatRemaining(59*time.Second+999*time.Millisecond), ShouldEqual, "00:59")
		So(session.FormatRemaining(30*time.Minute), ShouldEqual, "30:00")
		So(session.FormatRemaining(-time.Second), ShouldEqual, "00:00")
	})

	Convey("A zero warning lead expires without warning", t, func() {
		clock := newFakeClock()
		var warnings, expiries int
		w := session.NewWatchdog(5*time.Minute,
			session.WithClock(clock.Now),
			session.WithWarningLead(0),
			session.OnWarning(func(time.Duration) { warnings++ }),
			session.OnExpire(func() { expiries++ }),
		)
		tickFor(clock, w, 5*time.Minute)
		So(warnings, ShouldEqual, 0)
		So(expiries, ShouldEqual, 1)
	})

	Convey("Run stops when the context is cancelled", t, func() {
		w := session.NewWatchdog(time.Hour)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			w.Run(ctx, time.Millisecond)
			close(done)
		}()
		cancel()
		stopped := false
		select {
		case <-done:
			stopped = true
		case <-time.After(time.Second):
		}
		So(stopped, ShouldBeTrue)
	})
}

type memStore struct {
	mu       sync.Mutex
	clock    *fakeClock
	saved    map[string]time.Duration
	sessions map[string]model.Session
	expires  map[string]time.Time
}

func newMemStore(clock *fakeClock) *memStore {
	return &memStore{
		clock:    clock,
		saved:    map[string]time.Duration{},
		sessions: map[string]model.Session{},
		expires:  map[string]time.Time{},
	}
}

func (s *memStore) Save(_ context.Context, sess model.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[sess.ID] = ttl
	s.sessions[sess.ID] = sess
	s.expires[sess.ID] = s.clock.Now().Add(ttl)
	return nil
}

func (s *memStore) Refresh(_ context.Context, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[id] = ttl
	s.expires[id] = s.clock.Now().Add(ttl)
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, id)
	delete(s.sessions, id)
	delete(s.expires, id)
	return nil
}

func (s *memStore) Load(_ context.Context, id string) (model.Session, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	left := s.expires[id].Sub(s.clock.Now())
	if !ok || left <= 0 {
		return model.Session{}, 0, model.ErrNotFound
	}
	return sess, left, nil
}

type connLog struct {
	opened, closed []string
}

func (c *connLog) OpenConnection(_ context.Context, l model.ConnectionLog) (model.ConnectionLog, error) {
	c.opened = append(c.opened, l.ChefID)
	return l, nil
}

func (c *connLog) CloseConnection(_ context.Context, chefID string, _ time.Time) error {
	c.closed = append(c.closed, chefID)
	return nil
}

type inbox struct {
	mu    sync.Mutex
	items []model.Notification
}

func (b *inbox) Notify(_ context.Context, n model.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, n)
}

func TestManager(t *testing.T) {
	Convey("Given a session manager", t, func() {
		ctx := context.Background()
		clock := newFakeClock()
		store := newMemStore(clock)
		conns := &connLog{}
		box := &inbox{}
		var ended []error
		settings := model.Settings{
			SessionDuration:  30 * time.Minute,
			SessionOverrides: map[string]time.Duration{"chef-long": 60 * time.Minute},
			WarningLead:      2 * time.Minute,
			LogoutMessage:    "Ask your chef to log in again.",
		}
		m := session.NewManager(func() model.Settings { return settings },
			session.WithStore(store),
			session.WithConnectionLog(conns),
			session.WithNotifier(box),
			session.WithManagerClock(clock.Now),
			session.WithEndHook(func(_ context.Context, _ model.Session, reason error) { ended = append(ended, reason) }),
		)

		Convey("Start persists the session and opens the connection log", func() {
			sc, err := m.Start(ctx, "chef-1", "centrale")
			So(err, ShouldBeNil)
			So(sc.Valid(), ShouldBeTrue)
			So(sc.AgencyID(), ShouldEqual, "centrale")
			So(store.saved[sc.Session.ID], ShouldEqual, 30*time.Minute)
			So(conns.opened, ShouldResemble, []string{"chef-1"})
			So(m.Active(), ShouldEqual, 1)
			So(m.ForAgency("centrale"), ShouldEqual, sc)
		})

		Convey("Per-chef overrides are resolved at start and not re-read", func() {
			sc, err := m.Start(ctx, "chef-long", "nord")
			So(err, ShouldBeNil)
			So(sc.Session.Duration, ShouldEqual, 60*time.Minute)

			settings.SessionOverrides["chef-long"] = 5 * time.Minute
			clock.Advance(10 * time.Minute)
			m.Tick()
			So(sc.Valid(), ShouldBeTrue)
		})

		Convey("Idle sessions warn then expire with their side effects", func() {
			sc, _ := m.Start(ctx, "chef-1", "centrale")

			clock.Advance(28 * time.Minute)
			m.Tick()
			So(box.items, ShouldHaveLength, 1)
			So(box.items[0].Severity, ShouldEqual, model.SeverityWarning)
			So(box.items[0].Message, ShouldContainSubstring, "2 minute(s) left")
			So(box.items[0].Message, ShouldContainSubstring, settings.LogoutMessage)

			clock.Advance(2 * time.Minute)
			m.Tick()
			So(sc.Valid(), ShouldBeFalse)
			So(box.items, ShouldHaveLength, 2)
			So(box.items[1].Severity, ShouldEqual, model.SeverityDestructive)
			So(store.saved, ShouldBeEmpty)
			So(conns.closed, ShouldResemble, []string{"chef-1"})
			So(ended, ShouldHaveLength, 1)
			So(errors.Is(ended[0], model.ErrSessionExpired), ShouldBeTrue)

			_, err := m.Get(sc.Session.ID)
			So(errors.Is(err, model.ErrSessionExpired), ShouldBeTrue)
		})

		Convey("Touch pushes the deadline", func() {
			sc, _ := m.Start(ctx, "chef-1", "centrale")
			clock.Advance(29 * time.Minute)
			remaining, err := m.Touch(ctx, sc.Session.ID)
			So(err, ShouldBeNil)
			So(remaining, ShouldEqual, 30*time.Minute)

			clock.Advance(29 * time.Minute)
			m.Tick()
			So(sc.Valid(), ShouldBeTrue)
		})

		Convey("A session past its deadline is invalid even before the next tick", func() {
			sc, _ := m.Start(ctx, "chef-1", "centrale")
			clock.Advance(31 * time.Minute)
			So(sc.Valid(), ShouldBeFalse)
			So(errors.Is(sc.Err(), model.ErrSessionExpired), ShouldBeTrue)
		})

		Convey("Logout ends the session without the expiry notification", func() {
			sc, _ := m.Start(ctx, "chef-1", "centrale")
			So(m.Logout(ctx, sc.Session.ID), ShouldBeNil)
			So(m.Active(), ShouldEqual, 0)
			So(box.items, ShouldBeEmpty)
			So(ended, ShouldResemble, []error{nil})
			So(errors.Is(m.Logout(ctx, sc.Session.ID), model.ErrSessionExpired), ShouldBeTrue)
		})

		Convey("A manager over the same store restores a live session", func() {
			sc, _ := m.Start(ctx, "chef-1", "centrale")
			clock.Advance(10 * time.Minute)

			restarted := session.NewManager(func() model.Settings { return settings },
				session.WithStore(store),
				session.WithNotifier(box),
				session.WithManagerClock(clock.Now),
			)
			got, err := restarted.Get(sc.Session.ID)
			So(err, ShouldBeNil)
			So(got.AgencyID(), ShouldEqual, "centrale")
			So(got.Session.ChefID, ShouldEqual, "chef-1")
			So(got.Remaining(), ShouldEqual, 20*time.Minute)
			So(restarted.Active(), ShouldEqual, 1)

			remaining, err := restarted.Touch(ctx, sc.Session.ID)
			So(err, ShouldBeNil)
			So(remaining, ShouldEqual, 30*time.Minute)
			So(store.saved[sc.Session.ID], ShouldEqual, 30*time.Minute)

			clock.Advance(30 * time.Minute)
			restarted.Tick()
			_, err = restarted.Get(sc.Session.ID)
			So(errors.Is(err, model.ErrSessionExpired), ShouldBeTrue)
		})

		Convey("A session whose record lapsed is not restored", func() {
			sc, _ := m.Start(ctx, "chef-1", "centrale")
			clock.Advance(31 * time.Minute)

			restarted := session.NewManager(func() model.Settings { return settings },
				session.WithStore(store),
				session.WithManagerClock(clock.Now),
			)
			_, err := restarted.Get(sc.Session.ID)
			So(errors.Is(err, model.ErrSessionExpired), ShouldBeTrue)
			_, err = restarted.Get("never-issued")
			So(errors.Is(err, model.ErrSessionExpired), ShouldBeTrue)
			So(restarted.Active(), ShouldEqual, 0)
		})

		Convey("Start needs a chef and an agency", func() {
			_, err := m.Start(ctx, "", "centrale")
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})
	})
}

func TestTokenIssuer(t *testing.T) {
	Convey("Given a token issuer", t, func() {
		clock := newFakeClock()
		issuer := session.NewTokenIssuer("secret", "pointage", clock.Now)
		s := model.Session{ID: "sid-1", ChefID: "chef-1", AgencyID: "centrale"}

		Convey("Issued tokens parse back to their session", func() {
			raw, err := issuer.Issue(s)
			So(err, ShouldBeNil)
			claims, err := issuer.Parse(raw)
			So(err, ShouldBeNil)
			So(claims.SessionID, ShouldEqual, "sid-1")
			So(claims.Subject, ShouldEqual, "chef-1")
			So(claims.AgencyID, ShouldEqual, "centrale")
		})

		Convey("Tokens signed with another key are rejected", func() {
			raw, _ := session.NewTokenIssuer("other", "pointage", clock.Now).Issue(s)
			_, err := issuer.Parse(raw)
			So(errors.Is(err, session.ErrInvalidToken), ShouldBeTrue)
		})

		Convey("Stale tokens report an expired session", func() {
			raw, _ := issuer.Issue(s)
			clock.Advance(13 * time.Hour)
			_, err := issuer.Parse(raw)
			So(errors.Is(err, model.ErrSessionExpired), ShouldBeTrue)
		})
	})
}
