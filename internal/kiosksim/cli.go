package kiosksim

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pmuci/pointage/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging sends log output to the console and to logFile. An empty
// logFile gets a timestamped name.
func SetupLogging(logFile string) (func(), error) {
	if logFile == "" {
		logFile = "kiosk_sim_" + time.Now().Format("20060102_150405") + ".log"
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.Init(logger.WithOutput(io.MultiWriter(os.Stdout, file))); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return func() { _ = file.Close() }, nil
}

// ShowHelp prints usage information for the kiosk simulator.
func ShowHelp() {
	os.Stdout.WriteString(`Pointage Kiosk Simulator
========================

Walks today's roster of an agency through the kiosk flow
(identify, verify, sign, confirm, commit) on several kiosks at once,
then checks the ledger holds every committed record.

Usage:
  go run ./cmd/kiosk-sim [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:8080")
  -chef string
        Chef opening the session (default "c1")
  -kiosks int
        Number of concurrent kiosks (default 4)
  -rounds int
        Passes over the roster (default 2)
  -verify-attempts int
        Captures tried per employee before giving up (default 3)
  -timeout duration
        HTTP request timeout (default 10s)
  -output string
        Report file (default: kiosk_report_TIMESTAMP.json)
  -log string
        Log file (default: kiosk_sim_TIMESTAMP.log)
  -verbose
        Log every attempt
  -help
        Show this help message

Examples:
  # One pass on a single kiosk
  go run ./cmd/kiosk-sim -kiosks 1 -rounds 1

  # Stress the ledger with eight kiosks
  go run ./cmd/kiosk-sim -kiosks 8 -rounds 3 -url http://localhost:9080
`)
}
