package main

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/meterline/pkg/billing"
)

// RunFunc bills every active tenant for the periods containing at
type RunFunc func(ctx context.Context, at time.Time) (*billing.RunReport, error)

// SweepFunc marks sent invoices due before now as overdue
type SweepFunc func(ctx context.Context, now time.Time) (*billing.SweepReport, error)

// jobs holds the two scheduled tasks of the billing scheduler
type jobs struct {
	run        RunFunc
	sweep      SweepFunc
	log        logrus.FieldLogger
	runTimeout time.Duration
	now        func() time.Time
}

func newJobs(run RunFunc, sweep SweepFunc, log logrus.FieldLogger, runTimeout time.Duration) *jobs {
	return &jobs{
		run:        run,
		sweep:      sweep,
		log:        log,
		runTimeout: runTimeout,
		now:        time.Now,
	}
}

func (j *jobs) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if j.runTimeout > 0 {
		return context.WithTimeout(ctx, j.runTimeout)
	}
	return context.WithCancel(ctx)
}

// runBilling runs automatic billing for at. A run that loses the lock to another
// scheduler instance is not an error.
func (j *jobs) runBilling(ctx context.Context, at time.Time) (*billing.RunReport, error) {
	ctx, cancel := j.withTimeout(ctx)
	defer cancel()

	log := j.log.WithField("at", at.UTC().Format(time.RFC3339))
	log.Info("Starting automatic billing run")

	report, err := j.run(ctx, at)
	if errors.Is(err, billing.ErrRunInProgress) {
		log.Warn("Billing run skipped, another run holds the lock")
		return nil, nil
	}
	if report != nil {
		log = log.WithFields(logrus.Fields{
			"run_id":            report.RunID,
			"created":           report.Created,
			"skipped_no_plan":   report.SkippedNoPlan,
			"skipped_duplicate": report.SkippedDuplicate,
			"skipped_inactive":  report.SkippedInactive,
			"failed":            report.Failed,
			"not_processed":     report.NotProcessed,
			"duration":          report.FinishedAt.Sub(report.StartedAt).String(),
		})
	}
	if err != nil {
		log.WithError(err).Error("Billing run failed")
		return report, err
	}
	if report.Failed > 0 {
		log.Warn("Billing run completed with tenant failures")
	} else {
		log.Info("Billing run completed successfully")
	}
	return report, nil
}

// sweepOverdue evaluates every sent invoice that is past due
func (j *jobs) sweepOverdue(ctx context.Context) (*billing.SweepReport, error) {
	ctx, cancel := j.withTimeout(ctx)
	defer cancel()

	report, err := j.sweep(ctx, j.now())
	if err != nil {
		j.log.WithError(err).Error("Overdue sweep failed")
		return nil, err
	}
	entry := j.log.WithFields(logrus.Fields{
		"candidates":     report.Candidates,
		"marked_overdue": report.MarkedOverdue,
		"failed":         report.Failed,
	})
	if report.Failed > 0 {
		entry.Warn("Overdue sweep completed with failures")
	} else {
		entry.Info("Overdue sweep completed")
	}
	return report, nil
}

// runOnce performs one billing run for at followed by an overdue sweep
func (j *jobs) runOnce(ctx context.Context, at time.Time) error {
	if _, err := j.runBilling(ctx, at); err != nil {
		return err
	}
	_, err := j.sweepOverdue(ctx)
	return err
}
