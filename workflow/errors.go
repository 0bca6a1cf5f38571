/*
errors.go - Centralized error types for the workflow engine

PURPOSE:
  One sentinel per error kind so callers can classify with errors.Is, plus
  structured errors that carry the context needed to report a failure.

ERROR CATEGORIES:
  1. Guard rejections - nothing happened (validation, state, stage, swap)
  2. Batch outcomes   - some items succeeded, some did not
  3. Store failures   - surfaced as-is, never retried internally

USAGE:
  if errors.Is(err, workflow.ErrInvalidStateTransition) {
      // record moved under us; reload and retry if the caller wants to
  }

  var partial *workflow.PartialBatchFailure
  if errors.As(err, &partial) {
      log.Printf("%d ok, %d failed", partial.SuccessCount, partial.FailureCount)
  }
*/
package workflow

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a required selection or field is missing
	// or malformed, e.g. no generic product chosen before save.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidConversionFactor is returned when a conversion factor is <= 0.
	ErrInvalidConversionFactor = errors.New("invalid conversion factor")

	// ErrInvalidStateTransition is returned when a record is not in the
	// expected predecessor state. The record is left untouched.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrCrossGroupSwapRejected is returned when a swap target belongs to a
	// different product group than the record.
	ErrCrossGroupSwapRejected = errors.New("cross-group swap rejected")

	// ErrNoSubstitutionsFound is returned when a bulk operation has nothing
	// to act on.
	ErrNoSubstitutionsFound = errors.New("no substitutions found")

	// ErrPartialBatchFailure marks a batch where some items failed and some
	// succeeded. Successes are not rolled back.
	ErrPartialBatchFailure = errors.New("partial batch failure")

	// ErrBatchFailed marks a batch where every attempted item failed.
	ErrBatchFailed = errors.New("batch failed")

	// ErrStoreUnavailable wraps failures of the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned when a referenced record or product doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrStageLocked is returned when a role writes to a record whose current
	// stage it does not own.
	ErrStageLocked = errors.New("stage locked for role")

	// ErrDuplicateKey is returned when a substitution already exists for a key.
	ErrDuplicateKey = errors.New("duplicate substitution key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a missing or malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConversionFactorError carries the rejected factor.
type ConversionFactorError struct {
	GenericProductID ProductID
	Factor           string
}

func (e *ConversionFactorError) Error() string {
	if e.GenericProductID == "" {
		return fmt.Sprintf("invalid conversion factor %s: must be greater than zero", e.Factor)
	}
	return fmt.Sprintf("invalid conversion factor %s for generic product %s: must be greater than zero",
		e.Factor, e.GenericProductID)
}

func (e *ConversionFactorError) Unwrap() error { return ErrInvalidConversionFactor }

// TransitionError reports a rejected transition.
type TransitionError struct {
	RecordID string
	From     Status
	To       Status
	Current  Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for %s: %s -> %s (current status %s)",
		e.RecordID, e.From, e.To, e.Current)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// CrossGroupSwapError reports a swap target outside the record's group.
type CrossGroupSwapError struct {
	NecessityID NecessityID
	RecordGroup GroupID
	TargetGroup GroupID
	Target      ProductID
}

func (e *CrossGroupSwapError) Error() string {
	return fmt.Sprintf("cannot swap %s to product %s: group %s differs from record group %s",
		e.NecessityID, e.Target, e.TargetGroup, e.RecordGroup)
}

func (e *CrossGroupSwapError) Unwrap() error { return ErrCrossGroupSwapRejected }

// StageLockedError reports a write by a role that does not own the stage.
type StageLockedError struct {
	RecordID string
	Role     Role
	Status   Status
}

func (e *StageLockedError) Error() string {
	return fmt.Sprintf("%s cannot modify %s in status %s", e.Role, e.RecordID, e.Status)
}

func (e *StageLockedError) Unwrap() error { return ErrStageLocked }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// PartialBatchFailure is not fatal: successes stay committed.
type PartialBatchFailure struct {
	Operation    string
	SuccessCount int
	FailureCount int
}

func (e *PartialBatchFailure) Error() string {
	return fmt.Sprintf("%s: %d succeeded, %d failed", e.Operation, e.SuccessCount, e.FailureCount)
}

func (e *PartialBatchFailure) Unwrap() error { return ErrPartialBatchFailure }

// BatchFailedError reports a batch in which nothing succeeded.
type BatchFailedError struct {
	Operation    string
	FailureCount int
	First        error
}

func (e *BatchFailedError) Error() string {
	return fmt.Sprintf("%s: all %d item(s) failed: %v", e.Operation, e.FailureCount, e.First)
}

func (e *BatchFailedError) Unwrap() []error { return []error{ErrBatchFailed, e.First} }

// StoreError wraps a driver failure.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidConversionFactor) ||
		errors.Is(err, ErrCrossGroupSwapRejected) ||
		errors.Is(err, ErrNoSubstitutionsFound)
}

// IsConflict returns true if the record's state forbids the operation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrStageLocked) ||
		errors.Is(err, ErrDuplicateKey)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
