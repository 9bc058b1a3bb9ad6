package workflow

import (
	"errors"
	"fmt"

	"infraflow/task-portal/task-portal-backend/internal/tasks"
	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

var (
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrRoleMismatch        = errors.New("role mismatch")
	ErrDocumentGateBlocked = errors.New("document gate blocked")
	ErrMissingReason       = errors.New("reason is required")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")

	ErrStaleState = tasks.ErrStaleState
	ErrNotFound   = tasks.ErrNotFound
)

// DocumentGateError carries the deliverable a submission is waiting on
type DocumentGateError struct {
	Stage    workflows.Status
	Required workflows.DocumentType
}

func (e *DocumentGateError) Error() string {
	return fmt.Sprintf("%s: %s requires a %s document uploaded by the assignee", ErrDocumentGateBlocked, e.Stage, e.Required)
}

func (e *DocumentGateError) Unwrap() error {
	return ErrDocumentGateBlocked
}

// Code returns the stable identifier of an error's kind, as exposed to API clients
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrRoleMismatch):
		return "ROLE_MISMATCH"
	case errors.Is(err, ErrDocumentGateBlocked):
		return "DOCUMENT_GATE_BLOCKED"
	case errors.Is(err, ErrMissingReason):
		return "MISSING_REASON"
	case errors.Is(err, ErrStaleState):
		return "STALE_STATE"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	}
	return "INTERNAL"
}

func invalidTransition(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
}

func forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}
