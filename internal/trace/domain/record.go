// Package domain defines the append-only audit trace entities.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase is the position of a record in the Input-Operation-Output audit pattern.
type Phase string

const (
	// PhaseInput records that an intent was received.
	PhaseInput Phase = "INPUT"
	// PhaseOperation records that a delivery was attempted.
	PhaseOperation Phase = "OPERATION"
	// PhaseOutput records the delivery result and terminates the trace.
	PhaseOutput Phase = "OUTPUT"
)

// Result is the outcome recorded for a phase.
type Result string

const (
	ResultPending Result = "pending"
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultSkipped Result = "skipped"
)

// Record is one append-only row of the audit trace. Records sharing a trace ID
// form the lineage of a single logical action; they are only ever appended,
// never mutated or deleted.
type Record struct {
	ID           uuid.UUID
	TraceID      uuid.UUID
	Phase        Phase
	Actor        string
	Action       string
	TargetType   string
	TargetID     string
	Payload      json.RawMessage
	Result       Result
	ErrorMessage *string
	DurationMS   *int64
	CreatedAt    time.Time
}

// NewRecord creates a trace record for the given phase boundary.
func NewRecord(
	traceID uuid.UUID,
	phase Phase,
	actor, action, targetType, targetID string,
	payload json.RawMessage,
	result Result,
) (*Record, error) {
	if traceID == uuid.Nil {
		return nil, fmt.Errorf("trace id is required")
	}

	switch phase {
	case PhaseInput, PhaseOperation, PhaseOutput:
	default:
		return nil, fmt.Errorf("unknown trace phase: %q", phase)
	}

	switch result {
	case ResultPending, ResultSuccess, ResultFailure, ResultSkipped:
	default:
		return nil, fmt.Errorf("unknown trace result: %q", result)
	}

	if action == "" {
		return nil, fmt.Errorf("action is required")
	}

	if actor == "" {
		actor = "system"
	}

	return &Record{
		ID:         uuid.Must(uuid.NewV7()),
		TraceID:    traceID,
		Phase:      phase,
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Payload:    payload,
		Result:     result,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// WithError attaches an error message to the record.
func (r *Record) WithError(message string) *Record {
	r.ErrorMessage = &message
	return r
}

// WithDuration attaches the operation duration in milliseconds.
func (r *Record) WithDuration(d time.Duration) *Record {
	ms := d.Milliseconds()
	r.DurationMS = &ms
	return r
}
