package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

// NotFoundError reports that a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// AuthError reports a missing, invalid or expired credential.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConflictError reports a write that would duplicate a unique value.
type ConflictError struct {
	Entity string
	Key    string
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// ConditionalWriteError reports a write whose precondition on existing state
// did not hold.
type ConditionalWriteError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConditionalWriteError) Error() string {
	return fmt.Sprintf("conditional write on %s %s failed: %s", e.Entity, e.ID, e.Reason)
}

// DownstreamError reports a failed store or queue call.
type DownstreamError struct {
	Store string
	Op    string
	Err   error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Store, e.Op, e.Err)
}

func (e *DownstreamError) Unwrap() error { return e.Err }

// NewDownstreamError wraps err unless it already carries a taxonomy type.
func NewDownstreamError(store, op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return &DownstreamError{Store: store, Op: op, Err: err}
}

// PartialFailureError reports a dual write whose compensation also failed.
// Err is the original failure; CompensationErr is the failed undo.
type PartialFailureError struct {
	Op              string
	TaskID          string
	Err             error
	CompensationErr error
}

func (e *PartialFailureError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s of task %s failed: %v", e.Op, e.TaskID, e.Err)
	if e.CompensationErr != nil {
		fmt.Fprintf(&b, "; compensation failed: %v", e.CompensationErr)
	}
	return b.String()
}

func (e *PartialFailureError) Unwrap() []error {
	return []error{e.Err, e.CompensationErr}
}

// Classified reports whether err already belongs to the error taxonomy.
func Classified(err error) bool {
	var (
		v  *ValidationError
		nf *NotFoundError
		a  *AuthError
		c  *ConflictError
		cw *ConditionalWriteError
		d  *DownstreamError
		p  *PartialFailureError
	)
	return errors.As(err, &p) || errors.As(err, &v) || errors.As(err, &nf) ||
		errors.As(err, &a) || errors.As(err, &c) || errors.As(err, &cw) || errors.As(err, &d)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ErrorKind returns the machine-readable kind of err.
func ErrorKind(err error) string {
	var (
		v  *ValidationError
		nf *NotFoundError
		a  *AuthError
		c  *ConflictError
		cw *ConditionalWriteError
		p  *PartialFailureError
	)
	switch {
	case errors.As(err, &p):
		return "partial_failure"
	case errors.As(err, &v):
		return "validation_error"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &a):
		return "unauthorized"
	case errors.As(err, &c):
		return "conflict"
	case errors.As(err, &cw):
		return "conditional_write_failed"
	default:
		return "downstream_error"
	}
}

// ErrCommitFailed marks a transaction whose commit failed after its other
// side effects were already applied.
var ErrCommitFailed = errors.New("commit failed")
