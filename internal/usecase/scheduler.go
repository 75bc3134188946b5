package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"CatalogEnricher/internal/domain"
	"CatalogEnricher/internal/ports"
)

// Runner is the single-run entry point driven by the scheduler.
type Runner interface {
	Run(ctx context.Context) (domain.RunSummary, error)
}

// Scheduler wires the interval driver with the orchestrator for watch mode.
type Scheduler struct {
	driver ports.Scheduler
	runner Runner
	logger *slog.Logger

	running sync.Mutex
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{driver: driver, runner: runner, logger: logger}
}

// Start registers the run with the provided scheduler. A tick that arrives
// while a run is still in progress is dropped.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.runner == nil {
		return nil
	}

	job := func(trigger time.Time) {
		if !s.running.TryLock() {
			s.log().Warn("previous run still in progress, skipping tick", "trigger", trigger)
			return
		}
		defer s.running.Unlock()

		if _, err := s.runner.Run(ctx); err != nil {
			s.log().Error("scheduled run failed", "trigger", trigger, "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}

func (s *Scheduler) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}
