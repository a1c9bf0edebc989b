/*
errors.go - Centralized error types for the scheduler and material engine

PURPOSE:
  One error convention for every operation: results come back with a nil
  error, failures come back as a non-nil error. Callers classify failures
  with errors.Is against the sentinels below, never by message text.

ERROR CATEGORIES:
  1. Validation - bad input or wrong state (retrying the same call won't help)
  2. Contention - a shared resource (substation) is owned by someone else
  3. Infrastructure - anything else (database, constraint violations)

  Partial lot fulfillment and negative stock after reconciliation are NOT
  errors; they surface as warnings on the result.

SEE ALSO:
  - scheduler.go: Returns these from StartTask / CompleteTask
  - api/handlers.go: Maps categories to HTTP status codes
*/
package mes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrSubstationNotFound = errors.New("substation not found")
	ErrMaterialNotFound   = errors.New("material not found")

	// ErrWrongWorker is returned when a worker acts on someone else's assignment.
	ErrWrongWorker = errors.New("assignment belongs to another worker")

	// ErrInvalidState is returned when the assignment status forbids the operation.
	ErrInvalidState = errors.New("invalid assignment state")

	// ErrInvalidQuantity is returned for negative or otherwise malformed quantities.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidRequirement is returned when a reservation request line is malformed.
	ErrInvalidRequirement = errors.New("invalid material requirement")

	// ErrSubstationUnavailable is returned when a substation is held by another assignment.
	ErrSubstationUnavailable = errors.New("substation unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StateError reports an operation attempted in the wrong status.
type StateError struct {
	AssignmentID string
	Operation    string
	Status       AssignmentStatus
	Allowed      []AssignmentStatus
}

func (e *StateError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("cannot %s assignment %s: status is %s (allowed: %s)",
		e.Operation, e.AssignmentID, e.Status, strings.Join(allowed, ", "))
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// WorkerMismatchError reports an ownership violation on an assignment.
type WorkerMismatchError struct {
	AssignmentID string
	OwnerID      string
	WorkerID     string
}

func (e *WorkerMismatchError) Error() string {
	return fmt.Sprintf("assignment %s belongs to worker %s, not %s",
		e.AssignmentID, e.OwnerID, e.WorkerID)
}

func (e *WorkerMismatchError) Unwrap() error { return ErrWrongWorker }

// SubstationBusyError names the current holder so an operator can act on it.
type SubstationBusyError struct {
	SubstationID string
	Status       SubstationStatus
	HolderID     string
	HolderStatus AssignmentStatus
}

func (e *SubstationBusyError) Error() string {
	if e.HolderID == "" {
		return fmt.Sprintf("substation %s is %s", e.SubstationID, e.Status)
	}
	if e.HolderStatus == "" {
		return fmt.Sprintf("substation %s is %s by assignment %s", e.SubstationID, e.Status, e.HolderID)
	}
	return fmt.Sprintf("substation %s is %s by assignment %s (status %s)",
		e.SubstationID, e.Status, e.HolderID, e.HolderStatus)
}

func (e *SubstationBusyError) Unwrap() error { return ErrSubstationUnavailable }

// QuantityError reports a rejected quantity.
type QuantityError struct {
	Field  string
	Value  decimal.Decimal
	Reason string
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("invalid %s %s: %s", e.Field, e.Value, e.Reason)
}

func (e *QuantityError) Unwrap() error { return ErrInvalidQuantity }

// RequirementError reports a malformed reservation line.
type RequirementError struct {
	MaterialCode string
	Reason       string
}

func (e *RequirementError) Error() string {
	return fmt.Sprintf("invalid requirement for material %q: %s", e.MaterialCode, e.Reason)
}

func (e *RequirementError) Unwrap() error { return ErrInvalidRequirement }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAssignmentNotFound) ||
		errors.Is(err, ErrSubstationNotFound) ||
		errors.Is(err, ErrMaterialNotFound)
}

// IsClientError returns true if the caller should change its input, not retry.
func IsClientError(err error) bool {
	return IsNotFound(err) ||
		errors.Is(err, ErrWrongWorker) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidRequirement)
}

// IsConflict returns true if a shared resource is held by someone else.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSubstationUnavailable)
}
