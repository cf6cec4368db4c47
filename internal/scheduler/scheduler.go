// Package scheduler runs periodic maintenance for TourneyPipe using cron expressions.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/store"
	"github.com/robfig/cron/v3"
)

const (
	// DefaultRetentionSchedule runs the retention sweep at the top of every hour.
	DefaultRetentionSchedule = "0 * * * *"
	// DefaultRetention keeps finished rows for 30 days.
	DefaultRetention = 720 * time.Hour
)

// Purger removes finished rows older than a cutoff. store.Store satisfies it.
type Purger interface {
	PurgeFinished(before time.Time) (store.PurgeStats, error)
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field parser (min, hour, dom, month, dow) with panic recovery.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddRetentionSweep purges rows older than retention on the given schedule.
func (s *Scheduler) AddRetentionSweep(expr string, p Purger, retention time.Duration) error {
	if retention <= 0 {
		return fmt.Errorf("retention must be positive, got %s", retention)
	}
	err := s.AddJob(expr, func() {
		RetentionSweep(p, retention, time.Now())
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", expr, err)
	}
	slog.Info("Scheduler.AddRetentionSweep", "schedule", expr, "retention", retention)
	return nil
}

// RetentionSweep runs one purge pass relative to now.
func RetentionSweep(p Purger, retention time.Duration, now time.Time) store.PurgeStats {
	stats, err := p.PurgeFinished(now.Add(-retention))
	if err != nil {
		slog.Error("scheduler.RetentionSweep failed", "error", err)
		return stats
	}
	slog.Debug("scheduler.RetentionSweep", "removed", stats.Total())
	return stats
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
