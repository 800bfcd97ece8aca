// Package scheduler triggers synchronization runs on a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// RunFunc performs one synchronization. Its error is logged, never fatal.
type RunFunc func(ctx context.Context) error

// Config configures the scheduler.
type Config struct {
	// Interval between runs. Default: 24 hours.
	Interval time.Duration
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
}

// Scheduler calls a RunFunc once on start and then on every tick.
// Runs execute inline, so they never overlap.
type Scheduler struct {
	run    RunFunc
	config Config
	logger *slog.Logger
}

// New creates a Scheduler.
func New(run RunFunc, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{run: run, config: cfg, logger: logger}
}

// Interval returns the effective interval.
func (s *Scheduler) Interval() time.Duration { return s.config.Interval }

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.run(ctx); err != nil {
		s.logger.Warn("scheduler: run failed", "error", err, "next_in", s.config.Interval.String())
	}
}
