package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"approval-workflow-service/internal/models"
)

// Error kinds. Every ApprovalError matches exactly one of these with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrThresholdExceeded = errors.New("threshold exceeded")
	ErrConfiguration     = errors.New("configuration error")
)

// ApprovalError is a rejected engine operation with enough context for the
// caller to render a useful message
type ApprovalError struct {
	Kind              error
	Message           string
	WorkflowID        *uuid.UUID
	RequiredRole      *models.Role
	RequiredThreshold *float64
	Err               error
}

func (e *ApprovalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause
func (e *ApprovalError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *ApprovalError) withWorkflow(id uuid.UUID) *ApprovalError {
	e.WorkflowID = &id
	return e
}

func (e *ApprovalError) withRole(role models.Role) *ApprovalError {
	e.RequiredRole = &role
	return e
}

func (e *ApprovalError) withThreshold(ceiling *float64) *ApprovalError {
	e.RequiredThreshold = ceiling
	return e
}

func newError(kind error, cause error, format string, args ...interface{}) *ApprovalError {
	return &ApprovalError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

func notFound(format string, args ...interface{}) *ApprovalError {
	return newError(ErrNotFound, nil, format, args...)
}

func invalidState(format string, args ...interface{}) *ApprovalError {
	return newError(ErrInvalidState, nil, format, args...)
}

func unauthorized(format string, args ...interface{}) *ApprovalError {
	return newError(ErrUnauthorized, nil, format, args...)
}

func thresholdExceeded(format string, args ...interface{}) *ApprovalError {
	return newError(ErrThresholdExceeded, nil, format, args...)
}

func configuration(cause error, format string, args ...interface{}) *ApprovalError {
	return newError(ErrConfiguration, cause, format, args...)
}

// AsApprovalError extracts the ApprovalError from err, if any
func AsApprovalError(err error) (*ApprovalError, bool) {
	var approvalErr *ApprovalError
	if errors.As(err, &approvalErr) {
		return approvalErr, true
	}
	return nil, false
}
