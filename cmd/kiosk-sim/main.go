package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/pmuci/pointage/internal/kiosksim"
)

// Default configuration constants.
const (
	defaultKiosks         = 4
	defaultRounds         = 2
	defaultVerifyAttempts = 3
	defaultTimeout        = 10 * time.Second
	defaultRunTimeout     = 10 * time.Minute
)

func main() {
	var (
		baseURL        = flag.String("url", "http://localhost:8080", "Base URL of the service")
		chefID         = flag.String("chef", "c1", "Chef opening the session")
		kiosks         = flag.Int("kiosks", defaultKiosks, "Number of concurrent kiosks")
		rounds         = flag.Int("rounds", defaultRounds, "Passes over the roster")
		verifyAttempts = flag.Int("verify-attempts", defaultVerifyAttempts, "Captures tried per employee")
		timeout        = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		outputFile     = flag.String("output", "", "Report file (default: kiosk_report_TIMESTAMP.json)")
		logFile        = flag.String("log", "", "Log file (default: kiosk_sim_TIMESTAMP.log)")
		verbose        = flag.Bool("verbose", false, "Log every attempt")
		help           = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		kiosksim.ShowHelp()
		return
	}

	closeLog, err := kiosksim.SetupLogging(*logFile)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := &kiosksim.Config{
		BaseURL:        *baseURL,
		ChefID:         *chefID,
		Kiosks:         *kiosks,
		Rounds:         *rounds,
		VerifyAttempts: *verifyAttempts,
		Timeout:        *timeout,
		OutputFile:     *outputFile,
		LogFile:        *logFile,
		Verbose:        *verbose,
	}

	if _, err := kiosksim.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		return
	}
}
