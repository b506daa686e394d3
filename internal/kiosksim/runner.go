package kiosksim

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pmuci/pointage/pkg/logger"
)

const (
	directoryPermission = 0o750
	reportPermission    = 0o600
)

type job struct {
	round     int
	matricule string
}

// Run executes one simulation and returns its report.
func Run(ctx context.Context, cfg *Config) (*Report, error) {
	log := logger.Named("kiosksim")
	rep := &Report{RunID: uuid.NewString()}
	rep.Stats.StartTime = time.Now()

	log.Info(ctx, "starting kiosk simulation",
		logger.String("run_id", rep.RunID),
		logger.String("base_url", cfg.BaseURL),
		logger.String("chef_id", cfg.ChefID),
		logger.Int("kiosks", cfg.Kiosks),
		logger.Int("rounds", cfg.Rounds))

	c := NewClient(cfg.BaseURL, cfg.Timeout)

	// Step 1: Check service health
	if err := c.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Open the supervisory session
	sess, err := c.Login(ctx, cfg.ChefID)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	defer func() {
		if err := c.Logout(context.WithoutCancel(ctx)); err != nil {
			log.Warn(ctx, "logout failed", logger.Error(err))
		}
	}()
	rep.AgencyID = sess.Session.AgencyID

	// Step 3: Fetch today's roster
	today, err := c.Today(ctx, rep.AgencyID)
	if err != nil {
		return nil, fmt.Errorf("roster retrieval failed: %w", err)
	}
	rep.Date = today.Date
	rep.Stats.ActiveSlot = today.ActiveSlot
	matricules := make([]string, 0, len(today.Roster))
	for _, r := range today.Roster {
		matricules = append(matricules, r.Employee.Matricule)
	}
	rep.Stats.RosterSize = len(matricules)
	log.Info(ctx, "roster loaded",
		logger.String("agency_id", rep.AgencyID),
		logger.String("date", rep.Date),
		logger.Int("employees", len(matricules)),
		logger.Int("active_slot", today.ActiveSlot))

	// Step 4: Clock everyone in, round after round
	for round := 1; round <= cfg.Rounds; round++ {
		attempts, err := clockIn(ctx, c, cfg, rep.RunID, round, matricules)
		if err != nil {
			return nil, fmt.Errorf("round %d failed: %w", round, err)
		}
		for _, a := range attempts {
			rep.Stats.count(a)
		}
		rep.Attempts = append(rep.Attempts, attempts...)
	}

	// Step 5: Check the ledger holds what was committed
	if err := confirmLedger(ctx, c, rep); err != nil {
		return rep, fmt.Errorf("ledger verification failed: %w", err)
	}

	rep.Stats.EndTime = time.Now()
	rep.Stats.Duration = rep.Stats.EndTime.Sub(rep.Stats.StartTime)

	// Step 6: Save the report
	if err := saveReport(ctx, cfg, rep); err != nil {
		log.Warn(ctx, "failed to save report", logger.Error(err))
	}

	displayFinalStats(ctx, rep.Stats)
	log.Info(ctx, "simulation completed successfully")
	return rep, nil
}

// clockIn walks every matricule through one of cfg.Kiosks kiosks. A kiosk
// handles one employee at a time.
func clockIn(ctx context.Context, c *Client, cfg *Config, runID string, round int, matricules []string) ([]Attempt, error) {
	log := logger.Named("kiosksim")
	jobs := make(chan job, max(cfg.Kiosks, 1)*queueMultiplier)

	var (
		mu       sync.Mutex
		attempts = make([]Attempt, 0, len(matricules))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, m := range matricules {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case jobs <- job{round: round, matricule: m}:
			}
		}
		return nil
	})

	for i := range max(cfg.Kiosks, 1) {
		kioskID := fmt.Sprintf("sim-%s-%d", runID[:8], i+1)
		g.Go(func() error {
			for j := range jobs {
				a := c.Walk(gctx, kioskID, j.matricule, j.round, cfg.VerifyAttempts)
				if cfg.Verbose {
					log.Info(gctx, "attempt finished",
						logger.String("kiosk_id", kioskID),
						logger.String("matricule", a.Matricule),
						logger.String("outcome", string(a.Outcome)),
						logger.String("step", a.Step),
						logger.String("code", a.Code),
						logger.Duration("elapsed", a.Elapsed))
				}
				mu.Lock()
				attempts = append(attempts, a)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return attempts, nil
}

// saveReport writes rep as indented JSON.
func saveReport(ctx context.Context, cfg *Config, rep *Report) error {
	filename := cfg.OutputFile
	if filename == "" {
		filename = "kiosk_report_" + time.Now().Format("20060102_150405") + ".json"
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filename, data, reportPermission); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	logger.Named("kiosksim").Info(ctx, "report saved", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the run statistics.
func displayFinalStats(ctx context.Context, stats Stats) {
	var successRate, attemptsPerSecond float64
	if stats.Attempts > 0 {
		successRate = float64(stats.Committed+stats.AlreadyRecorded) / float64(stats.Attempts) * percentageMultiplier
	}
	if stats.Duration > 0 {
		attemptsPerSecond = float64(stats.Attempts) / stats.Duration.Seconds()
	}

	logger.Named("kiosksim").Info(ctx, "final statistics",
		logger.Int("roster_size", stats.RosterSize),
		logger.Int("attempts", stats.Attempts),
		logger.Int("committed", stats.Committed),
		logger.Int("already_recorded", stats.AlreadyRecorded),
		logger.Int("refused", stats.Refused),
		logger.Int("failed", stats.Failed),
		logger.Int("confirmed", stats.Confirmed),
		logger.Duration("duration", stats.Duration),
		logger.Float64("success_rate", successRate),
		logger.Float64("attempts_per_second", attemptsPerSecond))
}
