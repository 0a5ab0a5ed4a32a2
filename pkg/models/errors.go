package models

import (
	"errors"
	"fmt"
)

// ValidationError reports a record or argument that violates an invariant.
// It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StorageUnavailableError wraps a connection, open or deadline failure of the
// underlying store. Callers may retry it.
type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

// NotFoundError is returned by single-record lookups with no match.
type NotFoundError struct {
	Kind RecordKind
	ID   int64
	Key  string
}

func (e *NotFoundError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
	}
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var su *StorageUnavailableError
	return errors.As(err, &su)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
