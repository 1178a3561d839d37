package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is().
// These are generic errors that can be wrapped with additional context.
var (
	// Resolution / registry errors
	ErrActionNotFound   = errors.New("action not found")
	ErrSchemaNotFound   = errors.New("schema not found")
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrTenantNotFound   = errors.New("tenant not found")

	// Validation errors
	ErrInvalidInput         = errors.New("invalid input")
	ErrParamValidation      = errors.New("parameter validation failed")
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Eligibility errors
	ErrIneligible = errors.New("action not eligible")

	// Execution errors
	ErrTimeout            = errors.New("operation timeout")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrExternalTransient  = errors.New("transient upstream failure")
	ErrExternalPermanent  = errors.New("permanent upstream failure")

	// State errors
	ErrTerminalStatus        = errors.New("entity in terminal status")
	ErrIdempotencyConflict   = errors.New("idempotency key conflict")
	ErrActiveTaskExists      = errors.New("active task already exists")
	ErrAlreadyStarted        = errors.New("already started")
	ErrSessionLocked         = errors.New("session busy")
	ErrWorkflowAborted       = errors.New("workflow aborted")
	ErrDependencyUnsatisfied = errors.New("step dependency not satisfied")
)

// ErrorKind categorizes a failure for narrative selection and retry
// decisions. The set mirrors the user-visible error taxonomy.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindNotFound          ErrorKind = "not_found"
	KindEligibility       ErrorKind = "eligibility"
	KindExternalTransient ErrorKind = "external_transient"
	KindExternalPermanent ErrorKind = "external_permanent"
	KindConflict          ErrorKind = "conflict"
	KindWorkflowAbort     ErrorKind = "workflow_abort"
	KindInternal          ErrorKind = "internal"
)

// BrainError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type BrainError struct {
	Op   string    // Operation that failed (e.g., "queue.Enqueue")
	Kind ErrorKind // Error category
	ID   string    // Optional ID of the entity involved
	Err  error     // Underlying error for wrapping
}

func (e *BrainError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *BrainError) Unwrap() error {
	return e.Err
}

// NewBrainError creates a new BrainError.
func NewBrainError(op string, kind ErrorKind, err error) *BrainError {
	return &BrainError{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the error kind, defaulting to KindInternal for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var be *BrainError
	if errors.As(err, &be) {
		return be.Kind
	}
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrExternalTransient):
		return KindExternalTransient
	case errors.Is(err, ErrExternalPermanent):
		return KindExternalPermanent
	case errors.Is(err, ErrActionNotFound), errors.Is(err, ErrSchemaNotFound), errors.Is(err, ErrWorkflowNotFound):
		return KindNotFound
	case errors.Is(err, ErrIneligible):
		return KindEligibility
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrParamValidation):
		return KindValidation
	case errors.Is(err, ErrIdempotencyConflict):
		return KindConflict
	case errors.Is(err, ErrWorkflowAborted):
		return KindWorkflowAbort
	}
	return KindInternal
}

// IsRetryable reports whether an error represents a transient condition
// worth retrying per the default policy.
func IsRetryable(err error) bool {
	return KindOf(err) == KindExternalTransient
}

// IsNotFound checks if an error represents a "not found" condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrActionNotFound) ||
		errors.Is(err, ErrSchemaNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrTenantNotFound)
}
