// Package services provides the write-side business rules for graphs and
// triggers, plus standardized error types for the service layer.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest        = errors.New("invalid request")
	ErrGraphNil              = errors.New("graph cannot be nil")
	ErrGraphNameRequired     = errors.New("graph name is required")
	ErrTriggerNil            = errors.New("trigger cannot be nil")
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrInvalidTriggerConfig  = errors.New("invalid trigger configuration")
	ErrNotWebhookTrigger     = errors.New("trigger is not a webhook trigger")
	ErrNotManualTrigger      = errors.New("trigger is not a manual trigger")
	ErrTriggerInactive       = errors.New("trigger is inactive")

	// Business logic conflicts (409 Conflict).
	ErrCannotModifyPublished = errors.New("cannot modify published graph")
	ErrAlreadyPublished      = errors.New("graph is already published")
	ErrNotPublished          = errors.New("graph is not published")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrGraphNil) ||
		errors.Is(err, ErrGraphNameRequired) ||
		errors.Is(err, ErrTriggerNil) ||
		errors.Is(err, ErrInvalidCronExpression) ||
		errors.Is(err, ErrInvalidTriggerConfig) ||
		errors.Is(err, ErrNotWebhookTrigger) ||
		errors.Is(err, ErrNotManualTrigger) ||
		errors.Is(err, ErrTriggerInactive)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCannotModifyPublished) ||
		errors.Is(err, ErrAlreadyPublished) ||
		errors.Is(err, ErrNotPublished)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
