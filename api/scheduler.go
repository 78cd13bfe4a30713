/*
scheduler.go - Automated payroll refresh

PURPOSE:
  Re-runs payroll for the current month on a cron schedule so payouts pick
  up roster edits, compensation changes and newly activated advances
  without a manual trigger.

DESIGN:
  - robfig/cron with panic recovery, cron's own log lines go through slog
  - The job is RunPayroll for the month containing Service.Now, reusing the
    existing run's currency and include-inactive flag when there is one
  - Refreshes are idempotent, so overlapping manual runs are harmless

CONFIGURATION:
  - auto_run_enabled:  whether Start registers the job
  - auto_run_schedule: standard 5-field cron expression

USAGE:
  scheduler := NewPayrollScheduler(service, logger, cfg.AutoRunSchedule)
  scheduler.Start()
  // ... later
  <-scheduler.Stop().Done()

SEE ALSO:
  - payroll/service.go: RunPayroll
  - config/config.go: Schedule settings
*/
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/payout-engine/payroll"
)

// PayrollScheduler refreshes the current month's run periodically.
type PayrollScheduler struct {
	cron     *cron.Cron
	service  *payroll.Service
	logger   *slog.Logger
	schedule string

	// Currency is used when the month has no run yet.
	Currency string
}

// NewPayrollScheduler creates a scheduler. Nothing runs until Start.
func NewPayrollScheduler(service *payroll.Service, logger *slog.Logger, schedule string) *PayrollScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &PayrollScheduler{
		cron:     c,
		service:  service,
		logger:   logger,
		schedule: schedule,
		Currency: service.DefaultCurrency,
	}
}

// Start registers the refresh job and starts the cron scheduler.
func (s *PayrollScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RefreshCurrentMonth); err != nil {
		s.logger.Error("failed to schedule payroll refresh", "schedule", s.schedule, "error", err)
		return err
	}
	s.logger.Info("scheduled payroll refresh", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop stops the scheduler. The returned context is done once a running
// job has finished.
func (s *PayrollScheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RefreshCurrentMonth runs payroll for the month containing the service
// clock's today.
func (s *PayrollScheduler) RefreshCurrentMonth() {
	ctx := context.Background()
	today := time.Now().UTC()
	if s.service.Now != nil {
		today = s.service.Now().UTC()
	}

	req := payroll.RunRequest{
		Year:     today.Year(),
		Month:    today.Month(),
		Currency: s.Currency,
	}
	existing, err := s.service.Store.FindRun(ctx, req.Year, req.Month)
	if err != nil {
		s.logger.Error("scheduled refresh: find run", "error", err)
		return
	}
	if existing != nil {
		req.Currency = existing.Currency
		req.IncludeInactive = existing.IncludeInactive
	}

	result, err := s.service.RunPayroll(ctx, req)
	if err != nil {
		s.logger.Error("scheduled refresh failed", "year", req.Year, "month", int(req.Month), "error", err)
		return
	}
	s.logger.Info("scheduled refresh complete",
		"run_id", result.Run.ID,
		"created", result.Created,
		"payouts", len(result.Payouts),
	)
}
