package dto

import (
	"encoding/json"
	"time"

	"github.com/allisson/syncbox/internal/outbox/domain"
)

// EntryResponse represents an outbox entry in API responses.
type EntryResponse struct {
	ID        string          `json:"id"`
	DedupeKey string          `json:"dedupe_key"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	TraceID   string          `json:"trace_id"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError *string         `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// MapEntryToResponse converts a domain entry to an API response.
func MapEntryToResponse(entry *domain.Entry) EntryResponse {
	return EntryResponse{
		ID:        entry.ID.String(),
		DedupeKey: entry.DedupeKey.String(),
		Kind:      string(entry.DedupeKey.Kind),
		Payload:   entry.Payload,
		TraceID:   entry.TraceID.String(),
		Status:    string(entry.Status),
		Attempts:  entry.Attempts,
		LastError: entry.LastError,
		CreatedAt: entry.CreatedAt,
	}
}

// SubmitIntentResponse reports the outcome of an intent submission. Inserted
// is false when the dedupe key absorbed a duplicate.
type SubmitIntentResponse struct {
	Inserted bool          `json:"inserted"`
	Entry    EntryResponse `json:"entry"`
}

// ListEntriesResponse represents a list of pending entries in API responses.
type ListEntriesResponse struct {
	Data []EntryResponse `json:"data"`
}

// MapEntriesToListResponse converts a slice of domain entries to a list API response.
func MapEntriesToListResponse(entries []*domain.Entry) ListEntriesResponse {
	entryResponses := make([]EntryResponse, 0, len(entries))
	for _, entry := range entries {
		entryResponses = append(entryResponses, MapEntryToResponse(entry))
	}
	return ListEntriesResponse{
		Data: entryResponses,
	}
}

// PendingCountResponse reports how many entries wait for delivery.
type PendingCountResponse struct {
	Count int64 `json:"count"`
}
