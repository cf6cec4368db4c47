package models

import "time"

// Timer schedules delayed callbacks that can be cancelled by ID.
type Timer interface {
	// ScheduleAfter runs fn once after delay and returns an ID usable with Cancel.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)
	// Cancel stops a scheduled callback. Cancelling an unknown or fired ID is a no-op.
	Cancel(id string) error
}

// TimerInfo provides information about an active timer.
type TimerInfo struct {
	ID          string    `json:"id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Remaining   string    `json:"remaining"`
	Description string    `json:"description,omitempty"`
}
