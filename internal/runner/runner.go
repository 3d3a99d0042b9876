// Package runner provides the supervising loop around the trading engine:
// cycles at a fixed interval, with a bounded cooldown retry when a cycle
// fails. This loop is the only retry layer; the engine itself never retries
// internal operations.
package runner

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openmarkets/simtrader/internal/models"
)

// CycleRunner is the slice of the trading engine the runner drives.
type CycleRunner interface {
	RunCycle(ctx context.Context) models.CycleSummary
}

// Config holds the scheduling knobs.
type Config struct {
	// Interval between cycle starts, e.g. 30m.
	Interval time.Duration
	// Cooldown before retrying a failed cycle; must be shorter than Interval.
	Cooldown time.Duration
	// MaxRetries bounds how many cooldown retries follow one failed cycle.
	MaxRetries int
}

// Runner drives the engine on a schedule.
type Runner struct {
	engine CycleRunner
	cfg    Config
	log    *logrus.Logger
}

// New creates a runner for the given engine.
func New(eng CycleRunner, cfg Config, log *logrus.Logger) *Runner {
	return &Runner{engine: eng, cfg: cfg, log: log}
}

// RunOnce executes a single cycle with the bounded retry policy applied.
// This is the idempotent entry point an external scheduler (cron) invokes.
func (r *Runner) RunOnce(ctx context.Context) models.CycleSummary {
	summary := r.engine.RunCycle(ctx)

	for attempt := 1; summary.Status == models.CycleFailed && attempt <= r.cfg.MaxRetries; attempt++ {
		r.log.Warnf("Cycle failed (%s), retrying in %s (attempt %d/%d)",
			summary.Error, r.cfg.Cooldown, attempt, r.cfg.MaxRetries)

		select {
		case <-ctx.Done():
			r.log.Info("Shutdown requested during cooldown, abandoning retry")
			return summary
		case <-time.After(r.cfg.Cooldown):
		}

		summary = r.engine.RunCycle(ctx)
	}

	if summary.Status == models.CycleFailed {
		r.log.Errorf("Cycle still failing after %d retries, waiting for next tick: %s",
			r.cfg.MaxRetries, summary.Error)
	}
	return summary
}

// Run cycles immediately and then on every interval tick until the context is
// canceled.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Infof("Runner starting: interval=%s cooldown=%s max_retries=%d",
		r.cfg.Interval, r.cfg.Cooldown, r.cfg.MaxRetries)

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Runner stopping")
			return nil
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}
