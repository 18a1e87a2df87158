// Package validation provides custom validation rules for the application.
package validation

import (
	"regexp"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/syncbox/internal/errors"
)

var (
	// dedupeKeySegmentRegex matches one segment of a dedupe key: lowercase
	// alphanumerics plus ".", "-" and "_", no colons.
	dedupeKeySegmentRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]*$`)
)

// WrapValidationError wraps validation errors as domain ErrInvalidInput
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// DedupeKeySegment validates a single segment of a dedupe key
// ({actionKind}:{subjectScope}:{subjectId}:{uniquenessToken}). Segments must not
// contain the ":" separator so parsed keys round-trip unambiguously.
type DedupeKeySegment struct{}

// Validate checks that the value is a well-formed dedupe key segment.
func (d DedupeKeySegment) Validate(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_dedupe_segment", "dedupe key segment must be a string")
	}

	if s == "" {
		return validation.NewError("validation_dedupe_segment", "dedupe key segment cannot be blank")
	}

	if !dedupeKeySegmentRegex.MatchString(s) {
		return validation.NewError(
			"validation_dedupe_segment",
			"dedupe key segment must be lowercase alphanumeric with '.', '-' or '_'",
		)
	}

	return nil
}

// Priority validates a dispatch priority value (0 lowest to 9 highest).
type Priority struct{}

// Validate checks that the value is an int within the allowed priority range.
func (p Priority) Validate(value interface{}) error {
	n, ok := value.(int)
	if !ok {
		return validation.NewError("validation_priority", "priority must be an integer")
	}

	if n < 0 || n > 9 {
		return validation.NewError("validation_priority", "priority must be between 0 and 9")
	}

	return nil
}
