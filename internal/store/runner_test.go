package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJobRunnerPoll(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Now()
	clock := func() time.Time { return now }
	r := NewJobRunner(s, time.Second, WithRunnerClock(clock))

	var got []string
	r.RegisterHandler("announce.send", func(ctx context.Context, job Job) error {
		got = append(got, job.PayloadJSON)
		return nil
	})
	r.RegisterHandler("flaky", func(ctx context.Context, job Job) error {
		return errors.New("unavailable")
	})

	ok, _ := s.EnqueueJob("announce.send", now.Add(-time.Second), `{"n":1}`, "")
	flaky, _ := s.EnqueueJob("flaky", now.Add(-time.Second), `{}`, "")
	orphan, _ := s.EnqueueJob("unknown", now.Add(-time.Second), `{}`, "")
	_, _ = s.EnqueueJob("announce.send", now.Add(time.Hour), `{"n":2}`, "")

	if n := r.Poll(context.Background()); n != 3 {
		t.Fatalf("expected 3 due jobs, got %d", n)
	}
	if len(got) != 1 || got[0] != `{"n":1}` {
		t.Errorf("handler saw %v", got)
	}
	if job, _ := s.GetJob(ok); job.Status != JobStatusDone {
		t.Errorf("expected done, got %s", job.Status)
	}
	job, _ := s.GetJob(flaky)
	if job.Status != JobStatusQueued || !job.RunAt.Equal(now.Add(30*time.Second)) {
		t.Errorf("expected backoff retry, got %+v", job)
	}
	if job, _ := s.GetJob(orphan); job.LastError == "" {
		t.Error("job without a handler should record an error")
	}
}

func TestJobRunnerRunStops(t *testing.T) {
	r := NewJobRunner(NewInMemoryStore(), 5*time.Millisecond)
	if err := r.RecoverStaleJobs(); err != nil {
		t.Fatalf("RecoverStaleJobs failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOutboxSenderPoll(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Now()
	fail := true
	var delivered []string
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		if fail {
			return errors.New("rate limited")
		}
		delivered = append(delivered, msg.Recipient)
		return nil
	}, time.Second, WithRunnerClock(func() time.Time { return now }))

	id, _ := s.EnqueueOutboxMessage("555", "announce.message", `{}`, "")
	if n := sender.Poll(context.Background()); n != 1 {
		t.Fatalf("expected one attempt, got %d", n)
	}
	if n := sender.Poll(context.Background()); n != 0 {
		t.Errorf("message retried before its backoff elapsed")
	}

	fail = false
	now = now.Add(10 * time.Second)
	sender.Poll(context.Background())
	if len(delivered) != 1 || delivered[0] != "555" {
		t.Errorf("expected delivery to 555, got %v", delivered)
	}
	s.mu.RLock()
	status := s.outbox[id].Status
	s.mu.RUnlock()
	if status != OutboxStatusSent {
		t.Errorf("expected sent, got %s", status)
	}
}
