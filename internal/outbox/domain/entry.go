package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryStatus represents the queue status of an outbox entry.
type EntryStatus string

const (
	// EntryStatusPending marks entries waiting for delivery to the server of record.
	EntryStatusPending EntryStatus = "pending"
	// EntryStatusDeadLetter marks entries the server rejected permanently.
	// They are kept for inspection but excluded from sweeps.
	EntryStatusDeadLetter EntryStatus = "dead_letter"
)

// Entry is a durably queued intent awaiting exactly-once delivery.
// It identifies a physical queue row; the business fact it carries is
// identified by the dedupe key. An entry is deleted only after the server
// of record confirms the write.
type Entry struct {
	ID        uuid.UUID
	DedupeKey DedupeKey
	Payload   json.RawMessage
	TraceID   uuid.UUID
	Status    EntryStatus
	Attempts  int
	LastError *string
	CreatedAt time.Time
}

// NewEntry creates a pending entry for the given intent. A fresh trace ID is
// assigned so the entry's whole delivery lineage can be followed in the trace log.
func NewEntry(key DedupeKey, payload json.RawMessage) (*Entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	if len(payload) > 0 && !json.Valid(payload) {
		return nil, fmt.Errorf("payload must be valid JSON")
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	return &Entry{
		ID:        uuid.Must(uuid.NewV7()),
		DedupeKey: key,
		Payload:   payload,
		TraceID:   uuid.Must(uuid.NewV7()),
		Status:    EntryStatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}
