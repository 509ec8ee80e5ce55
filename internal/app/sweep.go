package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron"

	"casefs/internal/casefs"
)

// Sweep runs one orphan sweep with the configured grace period.
func (a *App) Sweep(ctx context.Context, dryRun bool) (*casefs.ReconcileReport, error) {
	return a.service.Reconcile(ctx, casefs.ReconcileOptions{
		GracePeriod: time.Duration(a.cfg.Sweep.GracePeriodSeconds) * time.Second,
		DryRun:      dryRun || a.cfg.Sweep.DryRun,
	})
}

// RunSweeper runs Sweep on schedule (a cron spec or "@every <duration>")
// until ctx is cancelled. An empty schedule uses the configured one.
func (a *App) RunSweeper(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = a.cfg.Sweep.Schedule
	}

	c := cron.New()
	err := c.AddFunc(schedule, func() {
		report, err := a.Sweep(ctx, false)
		if err != nil {
			a.logger.Error("sweep failed", "error", err)
			return
		}
		a.logger.Info("sweep finished", "scanned", report.Scanned, "deleted", len(report.DeletedBlobs),
			"missing", len(report.MissingBlobs), "failures", report.Failures)
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	a.logger.Info("sweeper started", "schedule", schedule)
	c.Start()
	<-ctx.Done()
	c.Stop()
	a.logger.Info("sweeper stopped")
	return nil
}
