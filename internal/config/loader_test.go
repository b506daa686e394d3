package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pmuci/pointage/internal/config"
	"github.com/pmuci/pointage/internal/domain/slots"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		clearConfigEnvVars()
		defer clearConfigEnvVars()
		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load()

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.LedgerTimeoutMS, convey.ShouldEqual, 3000)
				convey.So(cfg.DatabaseURL, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			setenv("POINTAGE_ADDR", ":8080")
			setenv("POINTAGE_SESSION_MINUTES", "45")
			setenv("POINTAGE_CENTRALISED_CLOCKING", "true")
			setenv("POINTAGE_CENTRAL_AGENCY_ID", "centrale")
			setenv("POINTAGE_KAFKA_BROKERS", "k1:9092,k2:9092")

			cfg, err := config.Load()

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.SessionMinutes, convey.ShouldEqual, 45)
				convey.So(cfg.CentralisedClocking, convey.ShouldBeTrue)
				convey.So(cfg.CentralAgencyID, convey.ShouldEqual, "centrale")
				convey.So(cfg.KafkaBrokers, convey.ShouldResemble, []string{"k1:9092", "k2:9092"})
			})
		})

		convey.Convey("When loading config with a YAML file and env vars", func() {
			path := writeConfig(t, `
addr: ":9090"
session_minutes: 20
slots:
  - start: "08:00"
    end: "08:30"
session_overrides:
  c1: 60
`)
			setenv("POINTAGE_CONFIG", path)
			setenv("POINTAGE_SESSION_MINUTES", "25")

			cfg, err := config.Load()

			convey.Convey("Then the file replaces the slot list and env wins over the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.SessionMinutes, convey.ShouldEqual, 25)
				convey.So(cfg.Slots, convey.ShouldResemble, []slots.Window{{Start: "08:00", End: "08:30"}})
				convey.So(cfg.SessionOverrides["c1"], convey.ShouldEqual, 60)
			})
		})

		convey.Convey("When the file is missing or malformed", func() {
			setenv("POINTAGE_CONFIG", "/non/existent/file.yaml")
			_, err := config.Load()
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)

			setenv("POINTAGE_CONFIG", writeConfig(t, `invalid: yaml: content: [`))
			_, err = config.Load()
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When a value does not validate", func() {
			setenv("POINTAGE_ADDR", "")
			cfg, err := config.Load()

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When running in prod", func() {
			setenv("POINTAGE_ENV", "prod")
			_, err := config.Load()

			convey.Convey("Then the default signing key is refused", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "jwt_signing_key must be set outside dev")
			})

			convey.Convey("Then an explicit signing key and exporter load", func() {
				setenv("POINTAGE_JWT_SIGNING_KEY", "from-the-vault")
				setenv("POINTAGE_TRACING_EXPORTER", "otlp")
				setenv("POINTAGE_OTLP_ENDPOINT", "collector:4318")
				cfg, err := config.Load()
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.TracingExporter, convey.ShouldEqual, "otlp")
				convey.So(cfg.OTLPEndpoint, convey.ShouldEqual, "collector:4318")
			})
		})

		convey.Convey("When a numeric env var is not a number", func() {
			setenv("POINTAGE_SESSION_MINUTES", "thirty")
			cfg, err := config.Load()
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pointage.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func setenv(key, value string) { _ = os.Setenv(key, value) }

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "POINTAGE_") {
			_ = os.Unsetenv(key)
		}
	}
}
