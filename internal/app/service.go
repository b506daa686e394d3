// Package service assembles the clock-in, planning, compliance and session
// components behind the HTTP API and drives their periodic work.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pmuci/pointage/internal/adapters/http/api"
	"github.com/pmuci/pointage/internal/adapters/notify"
	"github.com/pmuci/pointage/internal/adapters/repository"
	"github.com/pmuci/pointage/internal/config"
	"github.com/pmuci/pointage/internal/domain/clockin"
	"github.com/pmuci/pointage/internal/domain/compliance"
	"github.com/pmuci/pointage/internal/domain/dedupe"
	"github.com/pmuci/pointage/internal/domain/ledger"
	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/internal/domain/planning"
	"github.com/pmuci/pointage/internal/domain/session"
	"github.com/pmuci/pointage/internal/domain/slots"
	"github.com/pmuci/pointage/internal/domain/verification"
	"github.com/pmuci/pointage/pkg/logger"
	"github.com/pmuci/pointage/pkg/metrics"
	"github.com/pmuci/pointage/pkg/tracing"
)

// Service owns the domain components and the notification pipeline.
type Service struct {
	mu sync.RWMutex

	cfg      *config.Config
	gateway  repository.Gateway
	store    session.Store
	sinks    []notify.Sink
	verifier verification.Provider
	tracing  *tracing.Provider
	clock    func() time.Time
	loc      *time.Location
	log      logger.Logger

	settings   *Settings
	feed       *notify.Feed
	dispatcher *notify.Dispatcher
	ledger     *ledger.Query
	sessions   *session.Manager
	tokens     *session.TokenIssuer
	kiosks     *clockin.Registry
	planner    *planning.Planner
	reporter   *compliance.Reporter
	reminders  *slots.Reminders

	activeSlot atomic.Int64
	started    bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithSessionStore mirrors live sessions into s.
func WithSessionStore(s session.Store) Option {
	return func(svc *Service) { svc.store = s }
}

// WithSinks adds notification sinks next to the log and the feed.
func WithSinks(sinks ...notify.Sink) Option {
	return func(svc *Service) { svc.sinks = append(svc.sinks, sinks...) }
}

// WithTracing hands the service the trace pipeline it flushes on Stop.
// Shutting the provider down stays with the caller.
func WithTracing(p *tracing.Provider) Option {
	return func(svc *Service) { svc.tracing = p }
}

// WithVerifier replaces the simulated fingerprint reader.
func WithVerifier(p verification.Provider) Option {
	return func(svc *Service) {
		if p != nil {
			svc.verifier = p
		}
	}
}

// WithClock sets the service clock.
func WithClock(clock func() time.Time) Option {
	return func(svc *Service) {
		if clock != nil {
			svc.clock = clock
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(svc *Service) {
		if l != nil {
			svc.log = l
		}
	}
}

// New builds the service over gw. Nothing runs until Start.
func New(cfg *config.Config, gw repository.Gateway, opts ...Option) (*Service, error) {
	if cfg == nil || gw == nil {
		return nil, errors.New("service: config and gateway are required")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	base, err := cfg.Settings()
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		gateway: gw,
		clock:   time.Now,
		loc:     loc,
	}
	s.activeSlot.Store(slots.None)
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("service")
	}
	if s.verifier == nil {
		s.verifier = verification.NewSimulatedProvider(
			verification.WithSuccessRate(cfg.VerifySuccessRate),
			verification.WithLatencyRange(
				time.Duration(cfg.VerifyLatencyMinMS)*time.Millisecond,
				time.Duration(cfg.VerifyLatencyMaxMS)*time.Millisecond,
			),
		)
	}

	s.settings = NewSettings(base, gw)
	s.feed = notify.NewFeed(cfg.NotificationFeedSize)
	sink := append(notify.Fanout{notify.NewLogSink(logger.Get().Named("notifications")), s.feed}, s.sinks...)
	s.dispatcher = notify.NewDispatcher(sink, cfg.NotificationQueueSize, cfg.NotificationWorkers, nil)

	s.ledger = ledger.New(gw, ledger.WithTimeout(cfg.LedgerTimeout()))
	managerOpts := []session.ManagerOption{
		session.WithManagerClock(s.clock),
		session.WithConnectionLog(gw),
		session.WithNotifier(s.dispatcher),
		session.WithEndHook(s.sessionEnded),
	}
	if s.store != nil {
		managerOpts = append(managerOpts, session.WithStore(s.store))
	}
	s.sessions = session.NewManager(s.settings.Current, managerOpts...)
	s.tokens = session.NewTokenIssuer(cfg.JWTSigningKey, "pointage", s.clock)
	s.kiosks = clockin.NewRegistry(s.newKiosk)
	s.planner = planning.New(gw, nil)
	s.reporter = compliance.NewReporter(gw, nil)
	s.reminders = slots.NewReminders(base.ReminderAtStart, base.ReminderBeforeEnd, base.ReminderLead,
		dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.ReminderDedupeSize)))
	return s, nil
}

func (s *Service) newKiosk(id string) *clockin.Machine {
	return clockin.New(id, s.gateway, s.ledger, s.verifier,
		func() []model.Slot { return s.settings.Current().Slots },
		clockin.WithClock(s.clock),
		clockin.WithLocation(s.loc),
		clockin.WithTimeout(s.cfg.LedgerTimeout()),
		clockin.WithNotifier(s.dispatcher),
	)
}

// sessionEnded abandons the attempts running under an ended session.
func (s *Service) sessionEnded(ctx context.Context, sess model.Session, reason error) {
	reset := s.kiosks.ResetSession(sess.ID)
	if len(reset) > 0 {
		s.log.Info(ctx, "kiosk attempts abandoned",
			logger.String("session_id", sess.ID),
			logger.Any("kiosks", reset),
			logger.Error(reason),
		)
	}
}

func (s *Service) now() time.Time { return s.clock().In(s.loc) }

// Start loads the stored settings, starts the notification workers and
// the scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if err := s.settings.Load(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	// The workers outlive ctx so Stop can drain them.
	s.dispatcher.Start(context.WithoutCancel(ctx))
	tickCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(tickCtx, s.cfg.TickInterval())

	metrics.UpdateActiveSlot(slots.None)
	metrics.UpdateWorkerCount(s.cfg.NotificationWorkers)
	s.started = true
	s.log.Info(ctx, "service started",
		logger.Int("notification_workers", s.cfg.NotificationWorkers),
		logger.Int("notification_queue", s.cfg.NotificationQueueSize),
		logger.Duration("tick", s.cfg.TickInterval()),
	)
	return nil
}

// Stop halts the scheduler and drains the notification queue.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.cancel()
	<-s.done
	err := s.dispatcher.Shutdown(ctx)
	if ferr := s.tracing.Flush(ctx); ferr != nil {
		s.log.Warn(ctx, "trace flush failed", logger.Error(ferr))
	}
	s.started = false
	s.log.Info(ctx, "service stopped")
	return err
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the gateway, the session store and every sink that can be
// pinged. The first failure is returned, named after its component.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.gateway.Ping(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("session store: %w", err)
		}
	}
	for _, sink := range s.sinks {
		if p, ok := sink.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("notification sink: %w", err)
			}
		}
	}
	return nil
}

// Dependencies returns what the HTTP API needs.
func (s *Service) Dependencies() api.Dependencies {
	return api.Dependencies{
		Kiosks:          s.kiosks,
		Sessions:        s.sessions,
		Tokens:          s.tokens,
		Chefs:           s.gateway,
		Ledger:          s.ledger,
		Compliance:      s.reporter,
		Planner:         s.planner,
		Feed:            s.feed,
		Settings:        s.settings,
		Health:          s,
		Stats:           s,
		AutoCommitDelay: s.cfg.AutoCommitDelay(),
		Location:        s.loc,
		Clock:           s.clock,
	}
}

// Notify queues a notification for every sink.
func (s *Service) Notify(ctx context.Context, n model.Notification) {
	s.dispatcher.Notify(ctx, n)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	pending := s.dispatcher.Pending(ctx)
	metrics.UpdateQueueSize(pending)
	return map[string]any{
		"started":               s.started,
		"active_slot":           int(s.activeSlot.Load()),
		"active_sessions":       s.sessions.Active(),
		"kiosks":                len(s.kiosks.Snapshots()),
		"pending_notifications": pending,
		"notification_workers":  s.cfg.NotificationWorkers,
	}
}
