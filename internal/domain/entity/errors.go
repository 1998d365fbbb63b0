package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain layer operations.
var (
	// ErrNotFound indicates that a requested entity was not found
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrValidationFailed indicates that validation checks have failed
	ErrValidationFailed = errors.New("validation failed")

	// ErrDuplicate indicates a unique-constraint violation translated into
	// a non-error outcome by the caller (e.g. InsertItemIfAbsent, Enqueue).
	ErrDuplicate = errors.New("duplicate")

	// ErrCriticalFeedReferenced indicates a delete was refused because the
	// feed is_critical and referencing rows still exist.
	ErrCriticalFeedReferenced = errors.New("critical feed has referencing rows")

	// ErrEmergencyStop indicates the admission controller is in the
	// emergency-stopped state.
	ErrEmergencyStop = errors.New("emergency stop active")

	// ErrUnknownScopeType indicates a RunScope or ConfigChange discriminator
	// that does not match a known value; rejected at ingress per spec.md §9.
	ErrUnknownScopeType = errors.New("unknown scope type")
)

// ValidationError represents a validation error with detailed field information.
// It implements the error interface and provides context about which field failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns a formatted error message for the validation error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}
