package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/store"
)

type fakePurger struct {
	before time.Time
	err    error
}

func (f *fakePurger) PurgeFinished(before time.Time) (store.PurgeStats, error) {
	f.before = before
	return store.PurgeStats{Jobs: 2, Outbox: 1}, f.err
}

func TestAddJobValidation(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("expected error for invalid expression")
	}
	if err := s.AddJob(DefaultRetentionSchedule, func() {}); err != nil {
		t.Errorf("default schedule rejected: %v", err)
	}
}

func TestAddRetentionSweep(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	p := &fakePurger{}
	if err := s.AddRetentionSweep(DefaultRetentionSchedule, p, 0); err == nil {
		t.Error("zero retention should be rejected")
	}
	if err := s.AddRetentionSweep("* *", p, time.Hour); err == nil {
		t.Error("invalid schedule should be rejected")
	}
	if err := s.AddRetentionSweep(DefaultRetentionSchedule, p, DefaultRetention); err != nil {
		t.Errorf("AddRetentionSweep failed: %v", err)
	}
}

func TestRetentionSweep(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	p := &fakePurger{}
	stats := RetentionSweep(p, DefaultRetention, now)
	if !p.before.Equal(now.Add(-720 * time.Hour)) {
		t.Errorf("unexpected cutoff %v", p.before)
	}
	if stats.Total() != 3 {
		t.Errorf("expected 3 purged rows, got %d", stats.Total())
	}

	p.err = errors.New("locked")
	RetentionSweep(p, time.Hour, now)
}

func TestRetentionSweepOnStore(t *testing.T) {
	repo := store.NewInMemoryStore()
	id, _ := repo.EnqueueJob("k", time.Now().Add(-time.Minute), `{}`, "")
	_, _ = repo.ClaimDueJobs(time.Now(), 10)
	_ = repo.CompleteJob(id)

	stats := RetentionSweep(repo, time.Minute, time.Now().Add(time.Hour))
	if stats.Jobs != 1 {
		t.Errorf("expected the finished job to be purged, got %+v", stats)
	}
}
