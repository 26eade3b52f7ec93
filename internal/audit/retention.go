package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler prunes entries older than the retention window on a cron
// schedule.
type Scheduler struct {
	pruner    Pruner
	retention time.Duration
	schedule  string
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	logger  *slog.Logger
	running bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	target string
}

// WithTarget names what the scheduler prunes in its logs. Defaults to
// "audit".
func WithTarget(target string) SchedulerOption {
	return func(o *schedulerOptions) { o.target = target }
}

// NewScheduler creates a scheduler. A zero retention or empty schedule
// makes Start a no-op.
func NewScheduler(pruner Pruner, retentionDays int, schedule string, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	o := schedulerOptions{target: "audit"}
	for _, opt := range opts {
		opt(&o)
	}
	return &Scheduler{
		pruner:    pruner,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		schedule:  schedule,
		now:       time.Now,
		cron:      cron.New(),
		logger:    logger.With("component", "retention", "target", o.target),
	}
}

// Start registers the prune job and stops it when ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" || s.retention <= 0 {
		s.logger.Info("retention not configured, skipping scheduler")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("scheduling pruning: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("retention scheduler started",
		"schedule", s.schedule,
		"retention", s.retention.String(),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunOnce prunes immediately and returns the number of removed entries.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	cutoff := s.now().Add(-s.retention)
	removed, err := s.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("pruning failed", "error", err)
		return 0
	}
	if removed > 0 {
		s.logger.Info("pruning completed", "deleted_count", removed)
	} else {
		s.logger.Debug("pruning completed, nothing to delete")
	}
	return removed
}

// Stop halts the scheduler and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled prune, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
