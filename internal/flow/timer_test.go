package flow

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSimpleTimerFires(t *testing.T) {
	timer := NewSimpleTimer()
	done := make(chan struct{})
	if _, err := timer.ScheduleAfter(10*time.Millisecond, func() { close(done) }); err != nil {
		t.Fatalf("ScheduleAfter: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	if n := len(timer.ListActive()); n != 0 {
		t.Errorf("fired timer still listed: %d", n)
	}
}

func TestSimpleTimerCancel(t *testing.T) {
	timer := NewSimpleTimer()
	var fired atomic.Int32
	id, err := timer.ScheduleAfter(20*time.Millisecond, func() { fired.Add(1) })
	if err != nil {
		t.Fatalf("ScheduleAfter: %v", err)
	}
	if len(timer.ListActive()) != 1 {
		t.Fatal("expected one active timer")
	}
	if err := timer.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := timer.Cancel("unknown"); err != nil {
		t.Errorf("cancelling an unknown id should be a no-op: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("cancelled timer fired")
	}
}

func TestSimpleTimerStop(t *testing.T) {
	timer := NewSimpleTimer()
	var fired atomic.Int32
	for i := 0; i < 3; i++ {
		_, _ = timer.ScheduleAfter(20*time.Millisecond, func() { fired.Add(1) })
	}
	timer.Stop()
	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("stopped timers fired %d times", fired.Load())
	}
	if _, err := timer.ScheduleAfter(time.Second, nil); err == nil {
		t.Error("nil callback should be rejected")
	}
}
