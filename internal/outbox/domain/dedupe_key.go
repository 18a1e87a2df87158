// Package domain defines the core outbox domain entities and types.
package domain

import (
	"fmt"
	"strings"

	validation "github.com/jellydator/validation"

	customValidation "github.com/allisson/syncbox/internal/validation"
)

// ActionKind identifies the logical operation an outbox entry intends to perform
// on the server of record.
type ActionKind string

const (
	// ActionKindPresenceRecord records presence/absence for an encounter participant.
	ActionKindPresenceRecord ActionKind = "presence.record"
	// ActionKindSessionStart marks a coaching session as started.
	ActionKindSessionStart ActionKind = "session.start"
	// ActionKindSessionEnd marks a coaching session as finished.
	ActionKindSessionEnd ActionKind = "session.end"
	// ActionKindConsultationSchedule books a consultation slot.
	ActionKindConsultationSchedule ActionKind = "consultation.schedule"
	// ActionKindInvoiceUpdate transitions a payment invoice's lifecycle state.
	ActionKindInvoiceUpdate ActionKind = "invoice.update"
)

// actionKinds is the set of known kinds, used for validation.
var actionKinds = map[ActionKind]struct{}{
	ActionKindPresenceRecord:       {},
	ActionKindSessionStart:         {},
	ActionKindSessionEnd:           {},
	ActionKindConsultationSchedule: {},
	ActionKindInvoiceUpdate:        {},
}

// notifyingKinds are the kinds whose successful sync fans out a follow-on
// notification through the action dispatcher.
var notifyingKinds = map[ActionKind]struct{}{
	ActionKindPresenceRecord:       {},
	ActionKindConsultationSchedule: {},
	ActionKindInvoiceUpdate:        {},
}

// IsValid reports whether the kind is one of the known action kinds.
func (k ActionKind) IsValid() bool {
	_, ok := actionKinds[k]
	return ok
}

// Notifies reports whether a successful sync of this kind warrants a
// follow-on notification.
func (k ActionKind) Notifies() bool {
	_, ok := notifyingKinds[k]
	return ok
}

// DedupeKey deterministically identifies one intended effect. Two intents with
// equal keys represent the same logical change and collapse to a single outbox
// entry. The uniqueness token is caller-supplied on purpose: a business date, a
// coarse time bucket, or a nonce — chosen deliberately, since too coarse a token
// drops legitimate repeats and too fine a token defeats deduplication.
type DedupeKey struct {
	Kind      ActionKind
	Scope     string
	SubjectID string
	Token     string
}

// NewDedupeKey builds and validates a dedupe key.
func NewDedupeKey(kind ActionKind, scope, subjectID, token string) (DedupeKey, error) {
	key := DedupeKey{Kind: kind, Scope: scope, SubjectID: subjectID, Token: token}
	if err := key.Validate(); err != nil {
		return DedupeKey{}, err
	}
	return key, nil
}

// ParseDedupeKey parses the canonical "{kind}:{scope}:{subjectId}:{token}" form.
func ParseDedupeKey(s string) (DedupeKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return DedupeKey{}, fmt.Errorf("dedupe key must have 4 colon-separated segments, got %d", len(parts))
	}
	return NewDedupeKey(ActionKind(parts[0]), parts[1], parts[2], parts[3])
}

// Validate checks all key segments.
func (d DedupeKey) Validate() error {
	if !d.Kind.IsValid() {
		return fmt.Errorf("unknown action kind: %q", d.Kind)
	}

	return validation.ValidateStruct(&d,
		validation.Field(&d.Scope, validation.Required, customValidation.DedupeKeySegment{}),
		validation.Field(&d.SubjectID, validation.Required, customValidation.DedupeKeySegment{}),
		validation.Field(&d.Token, validation.Required, customValidation.DedupeKeySegment{}),
	)
}

// String returns the canonical persisted form of the key.
func (d DedupeKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", d.Kind, d.Scope, d.SubjectID, d.Token)
}
