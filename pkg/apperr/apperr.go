// Package apperr defines the coded error type shared by ladder components.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error.
type Code string

const (
	// CodeValidation marks bad caller input. Never retried.
	CodeValidation Code = "validation"
	// CodeInsufficientData marks too little telemetry or pattern data. Resolved by fallback.
	CodeInsufficientData Code = "insufficient_data"
	// CodeCollaborator marks a failed generate or embed call.
	CodeCollaborator Code = "collaborator"
	// CodePersistence marks a telemetry or cache persistence failure.
	CodePersistence Code = "persistence"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func InsufficientData(message string) *Error {
	return &Error{Code: CodeInsufficientData, Message: message}
}

func Collaborator(message string, cause error) *Error {
	return &Error{Code: CodeCollaborator, Message: message, Cause: cause}
}

func Persistence(message string, cause error) *Error {
	return &Error{Code: CodePersistence, Message: message, Cause: cause}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
