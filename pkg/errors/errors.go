package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Status  int      `json:"status"`
	Details []string `json:"details,omitempty"`
	Err     error    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so clones compare equal to their origin.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrDraftLocked         = New("DRAFT_LOCKED", http.StatusConflict, "draft is locked; delete and recreate it to make changes")
	ErrDraftDiscarded      = New("DRAFT_DISCARDED", http.StatusForbidden, "draft belongs to another user; start a new draft")
	ErrServiceUnavailable  = New("SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, "planning service unavailable, please retry")
	ErrConsistency         = New("CONSISTENCY_VIOLATION", http.StatusConflict, "draft state changed unexpectedly; reloaded from server")
	ErrSnapshotNotFound    = New("SNAPSHOT_NOT_FOUND", http.StatusNotFound, "no saved wizard session")
	ErrSubmissionBlocked   = New("SUBMISSION_BLOCKED", http.StatusUnprocessableEntity, "plan cannot be submitted")
	ErrPhaseClosed         = New("PHASE_CLOSED", http.StatusConflict, "planning phase does not accept submissions")
	ErrTemplateUnavailable = New("TEMPLATE_NOT_FOUND", http.StatusNotFound, "no template for this term type")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of the error carrying the provided detail messages.
func WithDetails(err *Error, message string, details []string) *Error {
	clone := Clone(err, message)
	if clone == nil {
		return nil
	}
	clone.Details = append([]string(nil), details...)
	return clone
}

// HasCode reports whether err (or anything it wraps) is an *Error with the given code.
func HasCode(err error, code string) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return HasCode(err, ErrValidation.Code)
}

// IsAuthorization reports whether err denies access to a draft.
func IsAuthorization(err error) bool {
	return HasCode(err, ErrForbidden.Code) || HasCode(err, ErrUnauthorized.Code) || HasCode(err, ErrDraftDiscarded.Code)
}

// IsTransient reports whether err is a retryable service failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if HasCode(err, ErrServiceUnavailable.Code) {
		return true
	}
	var e *Error
	if !errors.As(err, &e) {
		return true
	}
	return e.Code == ErrInternal.Code
}
