package compaction

import (
	"context"
	"errors"
	"time"

	"FinStore/internal/store"
	applogger "FinStore/pkg/logger"
)

// Compactor is satisfied by *Optimizer.
type Compactor interface {
	Compact(ctx context.Context) (Report, error)
}

// Scheduler runs a Compactor immediately and then on a fixed interval. Runs never overlap:
// a run that outlasts the interval delays the next tick.
type Scheduler struct {
	c        Compactor
	interval time.Duration
	logger   *applogger.Logger
	runs     chan Report
}

func NewScheduler(c Compactor, interval time.Duration, l *applogger.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Scheduler{c: c, interval: interval, logger: l}
}

// Notify makes the scheduler send each finished report to ch without blocking.
func (s *Scheduler) Notify(ch chan Report) { s.runs = ch }

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("compaction scheduler started", applogger.Duration("interval_ms", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("compaction scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	rep, err := s.c.Compact(ctx)
	switch {
	case errors.Is(err, store.ErrAbsent):
		s.logger.Debug("compaction skipped, source not written yet", applogger.String("source", rep.Source))
	case errors.Is(err, context.Canceled):
	case err != nil:
		s.logger.Error("compaction run failed", applogger.String("source", rep.Source), applogger.Error(err))
	}
	if s.runs != nil {
		select {
		case s.runs <- rep:
		default:
		}
	}
}
