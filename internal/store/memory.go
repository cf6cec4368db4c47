package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
	"github.com/BTreeMap/TourneyPipe/internal/util"
)

// InMemoryStore is a process-local Store. Nothing survives a restart, which
// makes it suitable for tests and single-run deployments.
type InMemoryStore struct {
	mu     sync.RWMutex
	setups map[string]models.SummaryRecord
	jobs   map[string]*Job
	outbox map[string]*OutboxMessage
	dedup  map[string]*DedupRecord
	now    func() time.Time
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		setups: make(map[string]models.SummaryRecord),
		jobs:   make(map[string]*Job),
		outbox: make(map[string]*OutboxMessage),
		dedup:  make(map[string]*DedupRecord),
		now:    time.Now,
	}
}

func (s *InMemoryStore) SaveSetup(rec models.SummaryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Entries = append([]models.SummaryEntry(nil), rec.Entries...)
	s.setups[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) GetSetup(id string) (*models.SummaryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.setups[id]
	if !ok {
		return nil, ErrSetupNotFound
	}
	return &rec, nil
}

func (s *InMemoryStore) ListSetups(limit int) ([]models.SummaryRecord, error) {
	s.mu.RLock()
	out := make([]models.SummaryRecord, 0, len(s.setups))
	for _, rec := range s.setups {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Jobs

func (s *InMemoryStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, j := range s.jobs {
			if j.DedupeKey == dedupeKey && j.Status != JobStatusDone && j.Status != JobStatusCanceled {
				return j.ID, nil
			}
		}
	}
	now := s.now()
	id := util.GenerateRandomID("job_", 32)
	s.jobs[id] = &Job{
		ID: id, Kind: kind, RunAt: runAt, PayloadJSON: payloadJSON,
		Status: JobStatusQueued, MaxAttempts: 3, DedupeKey: dedupeKey,
		CreatedAt: now, UpdatedAt: now,
	}
	return id, nil
}

func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].RunAt.Before(due[b].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]Job, 0, len(due))
	for _, j := range due {
		locked := now
		j.Status = JobStatusRunning
		j.LockedAt = &locked
		j.UpdatedAt = now
		out = append(out, *j)
	}
	return out, nil
}

func (s *InMemoryStore) CompleteJob(id string) error {
	return s.updateJob(id, func(j *Job) { j.Status = JobStatusDone })
}

func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	return s.updateJob(id, func(j *Job) {
		j.Attempt++
		j.LastError = errMsg
		j.LockedAt = nil
		if j.Attempt >= j.MaxAttempts {
			j.Status = JobStatusFailed
			return
		}
		j.Status = JobStatusQueued
		j.RunAt = nextRunAt
	})
}

func (s *InMemoryStore) CancelJob(id string) error {
	return s.updateJob(id, func(j *Job) {
		j.Status = JobStatusCanceled
		j.LockedAt = nil
	})
}

func (s *InMemoryStore) CancelJobsByDedupePrefix(prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && j.DedupeKey != "" && strings.HasPrefix(j.DedupeKey, prefix) {
			j.Status = JobStatusCanceled
			j.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			j.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *InMemoryStore) updateJob(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		fn(j)
		j.UpdatedAt = s.now()
	}
	return nil
}

// Outbox

func (s *InMemoryStore) EnqueueOutboxMessage(recipient, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	now := s.now()
	id := util.GenerateRandomID("out_", 32)
	s.outbox[id] = &OutboxMessage{
		ID: id, Recipient: recipient, Kind: kind, PayloadJSON: payloadJSON,
		Status: OutboxStatusQueued, DedupeKey: dedupeKey,
		CreatedAt: now, UpdatedAt: now,
	}
	return id, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].CreatedAt.Before(due[b].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]OutboxMessage, 0, len(due))
	for _, m := range due {
		locked := now
		m.Status = OutboxStatusSending
		m.LockedAt = &locked
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusSent
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Attempts++
		m.LastError = errMsg
		m.LockedAt = nil
		m.Status = OutboxStatusQueued
		next := nextAttemptAt
		m.NextAttemptAt = &next
	})
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) updateOutbox(id string, fn func(*OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok {
		fn(m)
		m.UpdatedAt = s.now()
	}
	return nil
}

// Dedup

func (s *InMemoryStore) IsDuplicate(eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[eventID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(eventID, senderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[eventID]; ok {
		return false, nil
	}
	s.dedup[eventID] = &DedupRecord{EventID: eventID, SenderID: senderID, ReceivedAt: s.now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[eventID]; ok {
		now := s.now()
		rec.ProcessedAt = &now
	}
	return nil
}

func (s *InMemoryStore) PurgeFinished(before time.Time) (PurgeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats PurgeStats
	for id, j := range s.jobs {
		terminal := j.Status == JobStatusDone || j.Status == JobStatusFailed || j.Status == JobStatusCanceled
		if terminal && j.UpdatedAt.Before(before) {
			delete(s.jobs, id)
			stats.Jobs++
		}
	}
	for id, m := range s.outbox {
		terminal := m.Status == OutboxStatusSent || m.Status == OutboxStatusFailed || m.Status == OutboxStatusCanceled
		if terminal && m.UpdatedAt.Before(before) {
			delete(s.outbox, id)
			stats.Outbox++
		}
	}
	for id, d := range s.dedup {
		if d.ReceivedAt.Before(before) {
			delete(s.dedup, id)
			stats.Dedup++
		}
	}
	return stats, nil
}

func (s *InMemoryStore) Close() error { return nil }
