package store

import (
	"time"
)

// DedupRecord represents an inbound event deduplication record.
type DedupRecord struct {
	EventID     string     `json:"event_id"`
	RequesterID string     `json:"requester_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound event deduplication.
type DedupRepo interface {
	// RecordInbound inserts a new inbound event record. Returns false if the
	// event was already recorded (duplicate).
	RecordInbound(eventID, requesterID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for an event.
	MarkProcessed(eventID string) error

	// Prune deletes records received before cutoff and returns how many.
	Prune(cutoff time.Time) (int64, error)
}
