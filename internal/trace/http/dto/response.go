// Package dto contains request and response types for trace HTTP endpoints.
package dto

import (
	"encoding/json"
	"time"

	traceDomain "github.com/allisson/syncbox/internal/trace/domain"
)

// TraceRecordResponse represents one audit trace record in API responses.
type TraceRecordResponse struct {
	ID           string          `json:"id"`
	TraceID      string          `json:"trace_id"`
	Phase        string          `json:"phase"`
	Actor        string          `json:"actor"`
	Action       string          `json:"action"`
	TargetType   string          `json:"target_type,omitempty"`
	TargetID     string          `json:"target_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Result       string          `json:"result"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	DurationMS   *int64          `json:"duration_ms,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MapRecordToResponse converts a domain trace record to an API response.
func MapRecordToResponse(record *traceDomain.Record) TraceRecordResponse {
	return TraceRecordResponse{
		ID:           record.ID.String(),
		TraceID:      record.TraceID.String(),
		Phase:        string(record.Phase),
		Actor:        record.Actor,
		Action:       record.Action,
		TargetType:   record.TargetType,
		TargetID:     record.TargetID,
		Payload:      record.Payload,
		Result:       string(record.Result),
		ErrorMessage: record.ErrorMessage,
		DurationMS:   record.DurationMS,
		CreatedAt:    record.CreatedAt,
	}
}

// ListTraceRecordsResponse represents a full trace lineage in API responses.
type ListTraceRecordsResponse struct {
	Data []TraceRecordResponse `json:"data"`
}

// MapRecordsToListResponse converts a slice of domain trace records to a list API response.
func MapRecordsToListResponse(records []*traceDomain.Record) ListTraceRecordsResponse {
	recordResponses := make([]TraceRecordResponse, 0, len(records))
	for _, record := range records {
		recordResponses = append(recordResponses, MapRecordToResponse(record))
	}
	return ListTraceRecordsResponse{
		Data: recordResponses,
	}
}
