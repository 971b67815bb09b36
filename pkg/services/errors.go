// Package services implements the business operations exposed by the API:
// enrollment management, journey publishing, and webhook outcome intake.
package services

import (
	"errors"
	"fmt"
)

var (
	// Validation errors (400).
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidOutcome = errors.New("invalid message outcome")
	ErrInvalidJourney = errors.New("journey failed validation")

	// Conflicts (409).
	ErrEnrollmentTerminal = errors.New("enrollment already finished")
	ErrNotPublishable     = errors.New("journey is not publishable in its current status")

	// Lookup misses the caller may tolerate.
	ErrUnknownMessage = errors.New("no enrollment awaits this message")
)

// ServiceError wraps a service-level error with the operation it came from.
type ServiceError struct {
	Op      string
	Message string
	Err     error
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

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidOutcome) ||
		errors.Is(err, ErrInvalidJourney)
}

func IsConflictError(err error) bool {
	return errors.Is(err, ErrEnrollmentTerminal) ||
		errors.Is(err, ErrNotPublishable)
}

func IsUnknownMessage(err error) bool {
	return errors.Is(err, ErrUnknownMessage)
}
