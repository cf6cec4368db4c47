// Package store provides the DedupRepo interface for inbound event deduplication.
package store

import (
	"time"
)

// DedupRecord represents an inbound event deduplication record.
type DedupRecord struct {
	EventID     string     `json:"event_id"`
	SenderID    string     `json:"sender_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound event deduplication. Chat platforms
// may redeliver an event after a reconnect; the router records every event ID.
type DedupRepo interface {
	// IsDuplicate checks if an event ID has already been recorded.
	IsDuplicate(eventID string) (bool, error)

	// RecordInbound inserts a new inbound event record. Returns false if the
	// event was already recorded (duplicate).
	RecordInbound(eventID, senderID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for an event.
	MarkProcessed(eventID string) error
}
