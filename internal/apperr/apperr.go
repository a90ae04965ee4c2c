// Package apperr defines the error kinds surfaced by the store, the history
// manager and the remote adapters. Callers match them with errors.Is/As.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBackendUnconfigured is returned when a remote operation is attempted
	// without a usable backend.
	ErrBackendUnconfigured = errors.New("backend not configured")
	// ErrBusy rejects an undo/redo/mutation while another one is in flight.
	ErrBusy = errors.New("another history operation is in progress")
	// ErrAlreadyActive rejects starting a second running event.
	ErrAlreadyActive = errors.New("an event is already in progress")
	// ErrNoActive is returned when stopping with nothing running.
	ErrNoActive = errors.New("no event in progress")
	// ErrNothingToUndo and ErrNothingToRedo report an empty history direction.
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// ValidationError reports malformed input. Problems lists every violated rule.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid event: " + strings.Join(e.Problems, "; ")
}

// Validation builds a ValidationError, or nil when problems is empty.
func Validation(problems ...string) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// NotFoundError reports an unknown event id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("event not found: %s", e.ID)
}

// NotFound returns a NotFoundError for id
func NotFound(id string) error {
	return &NotFoundError{ID: id}
}

// UnreachableError wraps network failures and timeouts. Retryable.
type UnreachableError struct {
	Backend string
	Err     error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s backend unreachable: %v", e.Backend, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// RejectedError means the backend answered but refused the request.
type RejectedError struct {
	Backend string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s backend rejected request: %s", e.Backend, e.Message)
}

// ConflictExhaustionError marks an outbound operation that hit the retry ceiling.
type ConflictExhaustionError struct {
	OperationID string
	Attempts    int
	Last        error
}

func (e *ConflictExhaustionError) Error() string {
	return fmt.Sprintf("operation %s failed after %d attempts: %v", e.OperationID, e.Attempts, e.Last)
}

func (e *ConflictExhaustionError) Unwrap() error { return e.Last }

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUnreachable reports whether err is an UnreachableError
func IsUnreachable(err error) bool {
	var ue *UnreachableError
	return errors.As(err, &ue)
}

// IsRejected reports whether err is a RejectedError
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
