package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/pmuci/pointage/internal/adapters/http/api"
	"github.com/pmuci/pointage/internal/adapters/http/swagger"
	"github.com/pmuci/pointage/internal/adapters/notify"
	"github.com/pmuci/pointage/internal/adapters/repository"
	"github.com/pmuci/pointage/internal/adapters/sessionstore"
	app "github.com/pmuci/pointage/internal/app"
	"github.com/pmuci/pointage/internal/config"
	"github.com/pmuci/pointage/internal/domain/session"
	"github.com/pmuci/pointage/pkg/logger"
	"github.com/pmuci/pointage/pkg/metrics"
	"github.com/pmuci/pointage/pkg/tracing"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 30 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	startupTimeout        = 30 * time.Second
	systemMetricsInterval = 10 * time.Second

	topicPartitions  = 3
	topicReplication = 1
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	startCtx, cancelStart := context.WithTimeout(ctx, startupTimeout)
	defer cancelStart()

	tp, err := tracing.New(startCtx,
		tracing.WithExporter(cfg.TracingExporter),
		tracing.WithEndpoint(cfg.OTLPEndpoint),
		tracing.WithSampleRatio(cfg.TraceSampleRatio),
	)
	if err != nil {
		log.Error(ctx, "failed to set up tracing", logger.Error(err))
		return
	}
	if tp.Enabled() {
		log.Info(ctx, "exporting traces", logger.String("exporter", cfg.TracingExporter))
	}

	gw, err := openGateway(startCtx, cfg)
	if err != nil {
		log.Error(ctx, "failed to open gateway", logger.Error(err))
		return
	}
	defer func() { _ = gw.Close() }()

	store, closeStore, err := openSessionStore(startCtx, cfg)
	if err != nil {
		log.Error(ctx, "failed to open session store", logger.Error(err))
		return
	}
	defer closeStore()

	sinks, closeSinks, err := openSinks(startCtx, cfg)
	if err != nil {
		log.Error(ctx, "failed to open notification sinks", logger.Error(err))
		return
	}
	defer closeSinks()

	svc, err := app.New(cfg, gw,
		app.WithLogger(log.Named("service")),
		app.WithSessionStore(store),
		app.WithSinks(sinks...),
		app.WithTracing(tp),
	)
	if err != nil {
		log.Error(ctx, "failed to build service", logger.Error(err))
		return
	}
	if err := svc.Start(startCtx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		return
	}

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(context.Background(), "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "service shutdown failed", logger.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "tracing shutdown failed", logger.Error(err))
	}
	log.Info(shutdownCtx, "server stopped")
}

// newHandler builds the API router with the docs mounted on it.
func newHandler(svc *app.Service) http.Handler {
	r := api.NewServer(svc.Dependencies(), logger.Named("api")).Routes()
	swagger.Mount(r)
	return r
}

// openGateway connects to Postgres when database_url is set and falls back
// to the in-memory store otherwise. fixture_path seeds either one.
func openGateway(ctx context.Context, cfg *config.Config) (repository.Gateway, error) {
	var fixture *repository.Fixture
	if cfg.FixturePath != "" {
		f, err := repository.LoadFixture(cfg.FixturePath)
		if err != nil {
			return nil, err
		}
		fixture = &f
	}

	if cfg.DatabaseURL == "" {
		var opts []repository.Option
		if fixture != nil {
			opts = append(opts, repository.WithFixture(*fixture))
		}
		store, err := repository.NewMemoryStore(opts...)
		if err != nil {
			return nil, err
		}
		logger.Get().Info(ctx, "using in-memory gateway", logger.Bool("seeded", fixture != nil))
		return store, nil
	}

	pg, err := repository.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, err
	}
	if fixture != nil {
		if err := pg.Seed(ctx, *fixture); err != nil {
			_ = pg.Close()
			return nil, err
		}
	}
	logger.Get().Info(ctx, "using postgres gateway", logger.Bool("seeded", fixture != nil))
	return pg, nil
}

// openSessionStore mirrors sessions into Redis when redis_url is set.
func openSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	if cfg.RedisURL == "" {
		return sessionstore.NewMemory(time.Now), func() {}, nil
	}
	client, err := sessionstore.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return sessionstore.NewRedis(client), func() { _ = client.Close() }, nil
}

// openSinks publishes notifications to Kafka when brokers are configured.
func openSinks(ctx context.Context, cfg *config.Config) ([]notify.Sink, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, func() {}, nil
	}
	k, err := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, nil, err
	}
	if err := k.EnsureTopic(ctx, topicPartitions, topicReplication); err != nil {
		k.Close()
		return nil, nil, err
	}
	logger.Get().Info(ctx, "publishing notifications to kafka", logger.String("topic", cfg.KafkaTopic))
	return []notify.Sink{k}, k.Close, nil
}

// startSystemMetricsUpdater refreshes the runtime gauges until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
