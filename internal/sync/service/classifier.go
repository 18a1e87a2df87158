// Package service implements the sync engine that drains the durable outbox
// to the server of record.
package service

import (
	"errors"
	"fmt"
)

// PermanentError marks a delivery failure that retrying cannot fix, such as a
// payload the server of record rejects outright. Entries failing permanently
// are dead-lettered instead of retried forever.
type PermanentError struct {
	err error
}

// NewPermanentError wraps err as a permanent delivery failure.
func NewPermanentError(err error) *PermanentError {
	return &PermanentError{err: err}
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery failure: %v", e.err)
}

// Unwrap returns the underlying error.
func (e *PermanentError) Unwrap() error {
	return e.err
}

// IsPermanent reports whether err is classified as a permanent delivery
// failure. Anything else, including network and timeout errors, is treated as
// transient and left pending for a later sweep.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
