/**
 * @description
 * Cron scheduler setup for the renewal sweep.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/locallum/blockchain-subscription-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance. A sweep that is still running when the
// next tick fires causes that tick to be skipped.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the sweep and starts the cron scheduler.
func (s *Scheduler) Start() error {
	spec := s.config.SweepSpec()
	if _, err := s.cron.AddFunc(spec, s.jobs.RenewSubscriptions); err != nil {
		return fmt.Errorf("failed to schedule renewal sweep %q: %w", spec, err)
	}
	s.logger.Info("scheduled renewal sweep", "schedule", spec)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler. The returned context is done once a
// running sweep has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
