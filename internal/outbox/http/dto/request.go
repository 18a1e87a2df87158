// Package dto provides data transfer objects for intent HTTP request and response handling.
package dto

import (
	"encoding/json"

	validation "github.com/jellydator/validation"

	"github.com/allisson/syncbox/internal/outbox/domain"
	customValidation "github.com/allisson/syncbox/internal/validation"
)

// SubmitIntentRequest contains the parameters for queueing a new intent.
type SubmitIntentRequest struct {
	Kind      string          `json:"kind"`
	Scope     string          `json:"scope"`
	SubjectID string          `json:"subject_id"`
	Token     string          `json:"token"`
	Payload   json.RawMessage `json:"payload"`
}

// Validate checks if the submit intent request is valid.
func (r *SubmitIntentRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Kind,
			validation.Required,
			validation.By(validateActionKind),
		),
		validation.Field(&r.Scope,
			validation.Required,
			customValidation.DedupeKeySegment{},
		),
		validation.Field(&r.SubjectID,
			validation.Required,
			customValidation.DedupeKeySegment{},
		),
		validation.Field(&r.Token,
			validation.Required,
			customValidation.DedupeKeySegment{},
		),
	)
}

// ToDedupeKey builds the typed dedupe key from the request fields.
func (r *SubmitIntentRequest) ToDedupeKey() (domain.DedupeKey, error) {
	return domain.NewDedupeKey(domain.ActionKind(r.Kind), r.Scope, r.SubjectID, r.Token)
}

// validateActionKind validates the action kind enum value.
func validateActionKind(value interface{}) error {
	kind, ok := value.(string)
	if !ok {
		return validation.NewError("validation_action_kind", "kind must be a string")
	}

	if !domain.ActionKind(kind).IsValid() {
		return validation.NewError("validation_action_kind", "unknown action kind")
	}

	return nil
}
