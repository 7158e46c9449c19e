package models

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input shape or range. Maps to HTTP 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError from a format string
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AuthError reports a missing, invalid, or expired token. Maps to HTTP 401.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// ScopeError reports an authenticated request lacking a required scope.
// Maps to HTTP 403; the body carries only the missing scope.
type ScopeError struct {
	Scope string
}

func (e *ScopeError) Error() string {
	return "missing scope: " + e.Scope
}

// NotFoundError reports an unknown entity id. Maps to HTTP 404.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// StateTransitionError reports an illegal state machine transition.
// Maps to HTTP 400.
type StateTransitionError struct {
	EntityID string
	From     string
	To       string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for %s", e.From, e.To, e.EntityID)
}

// AllocationError reports that no capacity remains at a depth, or that an
// active allocation already exists for the (job, depth) pair. Maps to 409.
type AllocationError struct {
	JobID   string
	Depth   int
	Message string
}

func (e *AllocationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("no worker capacity at depth %d", e.Depth)
}

// IdempotencyConflictError reports a reused Idempotency-Key with a different
// body, or a key whose first request is still in flight. Maps to 409.
type IdempotencyConflictError struct {
	Key     string
	Message string
}

func (e *IdempotencyConflictError) Error() string {
	return e.Message
}

// ExecutorError wraps a failure from the leaf executor. The job transitions
// to failed with the cause's message as the reason.
type ExecutorError struct {
	Cause error
}

func (e *ExecutorError) Error() string {
	return "leaf executor: " + e.Cause.Error()
}

func (e *ExecutorError) Unwrap() error {
	return e.Cause
}

// IsNotFound returns true if err is or wraps a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAllocationError returns true if err is or wraps an AllocationError
func IsAllocationError(err error) bool {
	var ae *AllocationError
	return errors.As(err, &ae)
}

// IsValidationError returns true if err is or wraps a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
