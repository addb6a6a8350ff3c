package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures so callers can decide how to react
type Kind string

const (
	KindValidation      Kind = "validation"
	KindConfiguration   Kind = "configuration"
	KindPolicyViolation Kind = "policy_violation"
	KindNotFound        Kind = "not_found"
)

// Error is the classified error returned by the engine components
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Validation reports missing or malformed caller input
func Validation(op, format string, args ...interface{}) error {
	return newError(KindValidation, op, format, args...)
}

// Configuration reports an unknown enum value or unsupported setting
func Configuration(op, format string, args ...interface{}) error {
	return newError(KindConfiguration, op, format, args...)
}

// PolicyViolation reports an operation attempted against a rule that currently forbids it
func PolicyViolation(op, format string, args ...interface{}) error {
	return newError(KindPolicyViolation, op, format, args...)
}

// NotFound reports a referenced entity that does not exist
func NotFound(op, format string, args ...interface{}) error {
	return newError(KindNotFound, op, format, args...)
}

// KindOf returns the classification of err, or "" for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RequireID fails with a validation error when id is blank
func RequireID(op, field, id string) error {
	if id == "" {
		return Validation(op, "%s is required", field)
	}
	return nil
}
