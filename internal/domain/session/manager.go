package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/pkg/apperr"
	"github.com/pmuci/pointage/pkg/logger"
	"github.com/pmuci/pointage/pkg/metrics"
)

const (
	defaultOpTimeout     = 3 * time.Second
	defaultLogoutMessage = "You will be logged out automatically. Ask the agency chef to log in again."
)

// Store persists live session records so other processes, or this one
// after a restart, can see them. Load reports the idle time left.
type Store interface {
	Save(ctx context.Context, s model.Session, ttl time.Duration) error
	Refresh(ctx context.Context, id string, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Load(ctx context.Context, id string) (model.Session, time.Duration, error)
}

// ConnectionLog records chef logins and logouts.
type ConnectionLog interface {
	OpenConnection(ctx context.Context, c model.ConnectionLog) (model.ConnectionLog, error)
	CloseConnection(ctx context.Context, chefID string, at time.Time) error
}

// Notifier receives user-facing alerts.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// EndHook runs after a session ended, by logout or by expiry.
type EndHook func(ctx context.Context, s model.Session, reason error)

// Manager starts, tracks and ends supervisory sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Context

	settings func() model.Settings
	store    Store
	conns    ConnectionLog
	notifier Notifier
	clock    func() time.Time
	log      logger.Logger
	hooks    []EndHook
	timeout  time.Duration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithStore(s Store) ManagerOption                 { return func(m *Manager) { m.store = s } }
func WithConnectionLog(c ConnectionLog) ManagerOption { return func(m *Manager) { m.conns = c } }
func WithNotifier(n Notifier) ManagerOption           { return func(m *Manager) { m.notifier = n } }

// WithManagerClock replaces time.Now for the manager and its watchdogs.
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithEndHook registers a hook run when any session ends.
func WithEndHook(h EndHook) ManagerOption {
	return func(m *Manager) {
		if h != nil {
			m.hooks = append(m.hooks, h)
		}
	}
}

// NewManager creates a Manager. settings is read when a session starts, so
// a duration change applies to the next login only.
func NewManager(settings func() model.Settings, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*Context),
		settings: settings,
		clock:    time.Now,
		timeout:  defaultOpTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Get().Named("session")
	}
	return m
}

// Start opens a session for chefID in charge of agencyID.
func (m *Manager) Start(ctx context.Context, chefID, agencyID string) (*Context, error) {
	const op = "session.Start"
	if chefID == "" || agencyID == "" {
		return nil, apperr.NewKind(op, model.ErrInvalidInput)
	}

	cfg := m.settings()
	s := model.Session{
		ID:       uuid.NewString(),
		ChefID:   chefID,
		AgencyID: agencyID,
		IssuedAt: m.clock(),
		Duration: cfg.SessionDurationFor(chefID),
	}
	if s.Duration <= 0 {
		return nil, apperr.WrapKind(op, model.ErrInvalidInput, errors.New("session duration must be positive"))
	}
	message := logoutMessage(cfg)

	if m.store != nil {
		if err := m.store.Save(ctx, s, s.Duration); err != nil {
			return nil, apperr.Wrap(op, fmt.Errorf("save session: %w", err))
		}
	}
	if m.conns != nil {
		if _, err := m.conns.OpenConnection(ctx, model.ConnectionLog{
			ChefID: chefID, AgencyID: agencyID, ConnectedAt: s.IssuedAt,
		}); err != nil {
			m.log.Warn(ctx, "connection log not written", logger.Error(err), logger.String("chef_id", chefID))
		}
	}

	sc := m.track(s, cfg, message, s.Duration)

	m.mu.Lock()
	m.sessions[s.ID] = sc
	active := len(m.sessions)
	m.mu.Unlock()

	metrics.RecordSessionStarted()
	metrics.UpdateActiveSessions(active)
	m.log.Info(ctx, "session started",
		logger.String("session_id", s.ID),
		logger.String("chef_id", chefID),
		logger.String("agency_id", agencyID),
		logger.Duration("duration", s.Duration),
	)
	return sc, nil
}

// track builds the watchdog and context of s with left idle time.
func (m *Manager) track(s model.Session, cfg model.Settings, message string, left time.Duration) *Context {
	var sc *Context
	wd := NewWatchdog(s.Duration,
		WithClock(m.clock),
		WithWarningLead(cfg.WarningLead),
		WithRemaining(left),
		OnWarning(func(remaining time.Duration) { m.warn(sc, remaining, message) }),
		OnExpire(func() { m.end(sc, model.ErrSessionExpired) }),
	)
	sc = NewContext(s, wd)
	return sc
}

func logoutMessage(cfg model.Settings) string {
	if cfg.LogoutMessage == "" {
		return defaultLogoutMessage
	}
	return cfg.LogoutMessage
}

// Get returns a live session, or model.ErrSessionExpired. A session this
// process does not track is looked up in the store, so a token outlives a
// restart for as long as its record does.
func (m *Manager) Get(id string) (*Context, error) {
	m.mu.Lock()
	sc, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		sc, ok = m.restore(id)
	}
	if !ok || !sc.Valid() {
		return nil, apperr.NewKind("session.Get", model.ErrSessionExpired)
	}
	return sc, nil
}

// restore rebuilds a session from the store with the idle time it has left.
func (m *Manager) restore(id string) (*Context, bool) {
	if m.store == nil || id == "" {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	s, left, err := m.store.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			m.log.Warn(ctx, "session record not loaded", logger.Error(err), logger.String("session_id", id))
		}
		return nil, false
	}
	if s.ID != id || s.Duration <= 0 || left <= 0 {
		return nil, false
	}
	cfg := m.settings()
	sc := m.track(s, cfg, logoutMessage(cfg), left)

	m.mu.Lock()
	if cur, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return cur, true
	}
	m.sessions[id] = sc
	active := len(m.sessions)
	m.mu.Unlock()

	metrics.UpdateActiveSessions(active)
	m.log.Info(ctx, "session restored",
		logger.String("session_id", id),
		logger.String("chef_id", s.ChefID),
		logger.Duration("remaining", left),
	)
	return sc, true
}

// Touch records activity and returns the refreshed remaining time.
func (m *Manager) Touch(ctx context.Context, id string) (time.Duration, error) {
	sc, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	if !sc.Touch() {
		return 0, apperr.NewKind("session.Touch", model.ErrSessionExpired)
	}
	if m.store != nil {
		if err := m.store.Refresh(ctx, id, sc.Session.Duration); err != nil {
			m.log.Warn(ctx, "session ttl not refreshed", logger.Error(err), logger.String("session_id", id))
		}
	}
	return sc.Remaining(), nil
}

// Logout ends a session on request.
func (m *Manager) Logout(ctx context.Context, id string) error {
	sc, err := m.Get(id)
	if err != nil {
		return err
	}
	sc.Watchdog().Stop()
	m.finish(ctx, sc, nil)
	return nil
}

// Tick advances every watchdog once. It is driven by the service scheduler.
func (m *Manager) Tick() {
	m.mu.Lock()
	live := make([]*Context, 0, len(m.sessions))
	for _, sc := range m.sessions {
		live = append(live, sc)
	}
	m.mu.Unlock()

	for _, sc := range live {
		sc.Watchdog().Tick()
	}
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ForAgency returns a live session in charge of agencyID, if any.
func (m *Manager) ForAgency(agencyID string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sc := range m.sessions {
		if sc.Session.AgencyID == agencyID && sc.Valid() {
			return sc
		}
	}
	return nil
}

func (m *Manager) warn(sc *Context, remaining time.Duration, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	minutes := int(math.Ceil(remaining.Minutes()))
	metrics.RecordSessionWarning()
	m.notify(ctx, model.Notification{
		Title:      "Session about to expire",
		Message:    fmt.Sprintf("%d minute(s) left. %s", minutes, message),
		Severity:   model.SeverityWarning,
		DurationMs: remaining.Milliseconds(),
		Topic:      "session",
		AgencyID:   sc.Session.AgencyID,
		At:         m.clock(),
	})
	m.log.Info(ctx, "session warning", logger.String("session_id", sc.Session.ID), logger.Duration("remaining", remaining))
}

func (m *Manager) end(sc *Context, reason error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	m.finish(ctx, sc, reason)
}

// finish removes the session and runs its side effects once.
func (m *Manager) finish(ctx context.Context, sc *Context, reason error) {
	m.mu.Lock()
	if _, ok := m.sessions[sc.Session.ID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sc.Session.ID)
	active := len(m.sessions)
	m.mu.Unlock()

	now := m.clock()
	if m.store != nil {
		if err := m.store.Delete(ctx, sc.Session.ID); err != nil {
			m.log.Warn(ctx, "session record not deleted", logger.Error(err), logger.String("session_id", sc.Session.ID))
		}
	}
	if m.conns != nil {
		if err := m.conns.CloseConnection(ctx, sc.Session.ChefID, now); err != nil {
			m.log.Warn(ctx, "connection log not closed", logger.Error(err), logger.String("chef_id", sc.Session.ChefID))
		}
	}

	if errors.Is(reason, model.ErrSessionExpired) {
		metrics.RecordSessionExpired()
		m.notify(ctx, model.Notification{
			Title:    "Session expired",
			Message:  "The agency chef session has ended. Please log in again.",
			Severity: model.SeverityDestructive,
			Topic:    "session",
			AgencyID: sc.Session.AgencyID,
			At:       now,
		})
	}
	metrics.UpdateActiveSessions(active)

	for _, h := range m.hooks {
		h(ctx, sc.Session, reason)
	}
	m.log.Info(ctx, "session ended",
		logger.String("session_id", sc.Session.ID),
		logger.Bool("expired", reason != nil),
	)
}

func (m *Manager) notify(ctx context.Context, n model.Notification) {
	if m.notifier != nil {
		m.notifier.Notify(ctx, n)
	}
}
