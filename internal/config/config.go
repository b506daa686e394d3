// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keys are flat snake_case so env vars map one to one (POINTAGE_ADDR -> addr).
// - Durations are stored as integers in the unit named by the key suffix.
// - Application settings persisted in the gateway override the slot and
//   session keys at runtime; see Settings.
package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/internal/domain/slots"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Env is dev or prod. Outside dev the signing key must be set
	// explicitly.
	Env string `koanf:"env"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Timezone is the IANA zone slots and calendar days are evaluated in.
	Timezone string `koanf:"timezone"`

	// DatabaseURL selects the PostgreSQL gateway. Empty means in-memory,
	// seeded from FixturePath when set.
	DatabaseURL string `koanf:"database_url"`
	FixturePath string `koanf:"fixture_path"`

	// RedisURL selects the Redis session store. Empty means in-memory.
	RedisURL string `koanf:"redis_url"`

	// KafkaBrokers enables the Kafka notification sink.
	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`

	JWTSigningKey string `koanf:"jwt_signing_key"`

	// TracingExporter is none, stdout or otlp. OTLPEndpoint is host:port
	// of an OTLP/HTTP collector; empty uses the exporter's default.
	TracingExporter  string  `koanf:"tracing_exporter"`
	OTLPEndpoint     string  `koanf:"otlp_endpoint"`
	TraceSampleRatio float64 `koanf:"trace_sample_ratio"`

	CentralAgencyID     string `koanf:"central_agency_id"`
	CentralisedClocking bool   `koanf:"centralised_clocking"`

	Slots []slots.Window `koanf:"slots"`

	SessionMinutes            int            `koanf:"session_minutes"`
	SessionWarningLeadSeconds int            `koanf:"session_warning_lead_seconds"`
	SessionOverrides          map[string]int `koanf:"session_overrides"`
	LogoutMessage             string         `koanf:"logout_message"`

	AutoCommitSeconds int `koanf:"auto_commit_seconds"`
	LedgerTimeoutMS   int `koanf:"ledger_timeout_ms"`

	ReminderAtStart     bool `koanf:"reminder_at_start"`
	ReminderBeforeEnd   bool `koanf:"reminder_before_end"`
	ReminderLeadMinutes int  `koanf:"reminder_lead_minutes"`
	ReminderDedupeSize  int  `koanf:"reminder_dedupe_size"`

	NotificationQueueSize int `koanf:"notification_queue_size"`
	NotificationWorkers   int `koanf:"notification_workers"`
	NotificationFeedSize  int `koanf:"notification_feed_size"`

	TickIntervalMS int `koanf:"tick_interval_ms"`

	// VerifySuccessRate and the latency bounds drive the simulated
	// fingerprint reader.
	VerifySuccessRate  float64 `koanf:"verify_success_rate"`
	VerifyLatencyMinMS int     `koanf:"verify_latency_min_ms"`
	VerifyLatencyMaxMS int     `koanf:"verify_latency_max_ms"`
}

const (
	EnvDev  = "dev"
	EnvProd = "prod"

	// DevSigningKey is the default jwt_signing_key. It is refused outside dev.
	DevSigningKey = "pointage-dev-signing-key"
)

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:                  "info",
		LogFormat:                 "text",
		Env:                       EnvDev,
		Addr:                      ":9080",
		Timezone:                  "Africa/Abidjan",
		KafkaTopic:                "pointage.notifications",
		JWTSigningKey:             DevSigningKey,
		TracingExporter:           "none",
		TraceSampleRatio:          1,
		Slots:                     []slots.Window{{Start: "09:00", End: "10:00"}, {Start: "14:00", End: "15:00"}},
		SessionMinutes:            30,
		SessionWarningLeadSeconds: 120,
		LogoutMessage:             "Votre session va expirer. Enregistrez votre travail.",
		AutoCommitSeconds:         5,
		LedgerTimeoutMS:           3000,
		ReminderAtStart:           true,
		ReminderBeforeEnd:         true,
		ReminderLeadMinutes:       5,
		ReminderDedupeSize:        1024,
		NotificationQueueSize:     1024,
		NotificationWorkers:       2,
		NotificationFeedSize:      100,
		TickIntervalMS:            1000,
		VerifySuccessRate:         0.95,
		VerifyLatencyMinMS:        300,
		VerifyLatencyMaxMS:        900,
	}
}

// Validate checks every key that has a constrained domain.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	case c.Env != EnvDev && c.Env != EnvProd:
		return fmt.Errorf("%w: env must be dev or prod, got %q", ErrInvalidConfig, c.Env)
	case c.JWTSigningKey == "":
		return fmt.Errorf("%w: jwt_signing_key must not be empty", ErrInvalidConfig)
	case c.Env != EnvDev && c.JWTSigningKey == DevSigningKey:
		return fmt.Errorf("%w: jwt_signing_key must be set outside dev", ErrInvalidConfig)
	case c.TracingExporter != "none" && c.TracingExporter != "stdout" && c.TracingExporter != "otlp":
		return fmt.Errorf("%w: tracing_exporter must be none, stdout or otlp, got %q", ErrInvalidConfig, c.TracingExporter)
	case c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1:
		return fmt.Errorf("%w: trace_sample_ratio must be within [0,1]", ErrInvalidConfig)
	case c.SessionMinutes <= 0:
		return fmt.Errorf("%w: session_minutes must be positive", ErrInvalidConfig)
	case c.SessionWarningLeadSeconds < 0:
		return fmt.Errorf("%w: session_warning_lead_seconds must not be negative", ErrInvalidConfig)
	case c.LedgerTimeoutMS <= 0:
		return fmt.Errorf("%w: ledger_timeout_ms must be positive", ErrInvalidConfig)
	case c.TickIntervalMS <= 0:
		return fmt.Errorf("%w: tick_interval_ms must be positive", ErrInvalidConfig)
	case c.NotificationQueueSize <= 0 || c.NotificationWorkers <= 0:
		return fmt.Errorf("%w: notification queue and workers must be positive", ErrInvalidConfig)
	case c.VerifySuccessRate < 0 || c.VerifySuccessRate > 1:
		return fmt.Errorf("%w: verify_success_rate must be within [0,1]", ErrInvalidConfig)
	case c.CentralisedClocking && c.CentralAgencyID == "":
		return fmt.Errorf("%w: centralised_clocking requires central_agency_id", ErrInvalidConfig)
	case len(c.KafkaBrokers) > 0 && c.KafkaTopic == "":
		return fmt.Errorf("%w: kafka_topic must not be empty", ErrInvalidConfig)
	}
	for chef, minutes := range c.SessionOverrides {
		if minutes <= 0 {
			return fmt.Errorf("%w: session override for %s must be positive", ErrInvalidConfig, chef)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := slots.Parse(c.Slots); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Location loads the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, c.Timezone, err)
	}
	return loc, nil
}

// Settings converts the configuration to the domain's settings.
func (c *Config) Settings() (model.Settings, error) {
	parsed, err := slots.Parse(c.Slots)
	if err != nil {
		return model.Settings{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	overrides := make(map[string]time.Duration, len(c.SessionOverrides))
	for chef, minutes := range c.SessionOverrides {
		overrides[chef] = time.Duration(minutes) * time.Minute
	}
	return model.Settings{
		Slots:               parsed,
		SessionDuration:     time.Duration(c.SessionMinutes) * time.Minute,
		SessionOverrides:    overrides,
		WarningLead:         time.Duration(c.SessionWarningLeadSeconds) * time.Second,
		LogoutMessage:       c.LogoutMessage,
		ReminderAtStart:     c.ReminderAtStart,
		ReminderBeforeEnd:   c.ReminderBeforeEnd,
		ReminderLead:        time.Duration(c.ReminderLeadMinutes) * time.Minute,
		CentralisedClocking: c.CentralisedClocking,
		CentralAgencyID:     c.CentralAgencyID,
	}, nil
}

func (c *Config) LedgerTimeout() time.Duration {
	return time.Duration(c.LedgerTimeoutMS) * time.Millisecond
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

func (c *Config) AutoCommitDelay() time.Duration {
	return time.Duration(c.AutoCommitSeconds) * time.Second
}
