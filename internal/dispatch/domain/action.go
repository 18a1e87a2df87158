// Package domain contains the action queue types and state machine.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionStatus represents where an action sits in its lifecycle.
type ActionStatus string

const (
	// ActionStatusPending means the action waits for a consumer.
	ActionStatusPending ActionStatus = "PENDING"
	// ActionStatusProcessing means a consumer has claimed the action.
	ActionStatusProcessing ActionStatus = "PROCESSING"
	// ActionStatusCompleted is terminal success.
	ActionStatusCompleted ActionStatus = "COMPLETED"
	// ActionStatusFailed means the last attempt failed; the action is retried
	// while retries remain and terminal once they are exhausted.
	ActionStatusFailed ActionStatus = "FAILED"
	// ActionStatusExpired is terminal: the action outlived its TTL unprocessed.
	ActionStatusExpired ActionStatus = "EXPIRED"
)

// Action is one deduplicated unit of downstream work, decoupled from the sync
// path that produced it.
type Action struct {
	ID          uuid.UUID
	ActionType  string
	Priority    int
	Status      ActionStatus
	Payload     json.RawMessage
	RetryCount  int
	MaxRetries  int
	NextRetryAt time.Time
	LastError   *string
	ExpiresAt   time.Time
	DedupeKey   string
	TraceID     uuid.UUID
	Result      *string
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewAction creates a pending action.
func NewAction(
	actionType string,
	payload json.RawMessage,
	dedupeKey string,
	traceID uuid.UUID,
	priority int,
	maxRetries int,
	ttl time.Duration,
	now time.Time,
) (*Action, error) {
	if actionType == "" {
		return nil, fmt.Errorf("action type is required")
	}
	if dedupeKey == "" {
		return nil, fmt.Errorf("dedupe key is required")
	}
	if traceID == uuid.Nil {
		return nil, fmt.Errorf("trace id is required")
	}
	if priority < 0 || priority > 9 {
		return nil, fmt.Errorf("priority must be between 0 and 9, got %d", priority)
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("payload must be valid json")
	}

	now = now.UTC()

	return &Action{
		ID:          uuid.Must(uuid.NewV7()),
		ActionType:  actionType,
		Priority:    priority,
		Status:      ActionStatusPending,
		Payload:     payload,
		MaxRetries:  maxRetries,
		NextRetryAt: now,
		ExpiresAt:   now.Add(ttl),
		DedupeKey:   dedupeKey,
		TraceID:     traceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsTerminal reports whether the action can never be claimed again.
func (a *Action) IsTerminal() bool {
	switch a.Status {
	case ActionStatusCompleted, ActionStatusExpired:
		return true
	case ActionStatusFailed:
		return a.RetryCount >= a.MaxRetries
	default:
		return false
	}
}

// IsClaimable reports whether a consumer may move the action to PROCESSING at
// the given time. Only PENDING and FAILED-with-retries-left qualify, and only
// once their retry time has come.
func (a *Action) IsClaimable(now time.Time) bool {
	if a.IsExpired(now) {
		return false
	}

	switch a.Status {
	case ActionStatusPending:
		return !a.NextRetryAt.After(now)
	case ActionStatusFailed:
		return a.RetryCount < a.MaxRetries && !a.NextRetryAt.After(now)
	default:
		return false
	}
}

// IsExpired reports whether the action outlived its TTL.
func (a *Action) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// MarkProcessing transitions the action to PROCESSING.
func (a *Action) MarkProcessing(now time.Time) error {
	if !a.IsClaimable(now) {
		return fmt.Errorf("action %s is not claimable in status %s", a.ID, a.Status)
	}

	a.Status = ActionStatusProcessing
	a.UpdatedAt = now.UTC()
	return nil
}

// MarkCompleted transitions the action to COMPLETED with an optional result.
func (a *Action) MarkCompleted(result *string, now time.Time) error {
	if a.Status != ActionStatusProcessing {
		return fmt.Errorf("action %s cannot complete from status %s", a.ID, a.Status)
	}

	now = now.UTC()
	a.Status = ActionStatusCompleted
	a.Result = result
	a.ProcessedAt = &now
	a.UpdatedAt = now
	return nil
}

// MarkFailed records a failed attempt and schedules the retry. Once retries
// are exhausted the FAILED status becomes terminal.
func (a *Action) MarkFailed(cause string, nextRetryAt, now time.Time) error {
	if a.Status != ActionStatusProcessing {
		return fmt.Errorf("action %s cannot fail from status %s", a.ID, a.Status)
	}

	a.Status = ActionStatusFailed
	a.RetryCount++
	a.LastError = &cause
	a.NextRetryAt = nextRetryAt.UTC()
	a.UpdatedAt = now.UTC()
	return nil
}

// MarkExpired transitions the action to EXPIRED.
func (a *Action) MarkExpired(now time.Time) error {
	if a.Status == ActionStatusCompleted {
		return fmt.Errorf("action %s is already completed", a.ID)
	}

	a.Status = ActionStatusExpired
	a.UpdatedAt = now.UTC()
	return nil
}
