// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Structured error types shared by drivers and backends.

package api

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of loop failure.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	// ErrCodeInvalidCallback: an id does not refer to a live callback
	// record, or a callback produced a non-nil return value.
	ErrCodeInvalidCallback
	// ErrCodeUnsupportedFeature: the capability is not available on this
	// backend or platform (for example signal dispatch).
	ErrCodeUnsupportedFeature
	// ErrCodeBackend: an OS-level failure during dispatch.
	ErrCodeBackend
	// ErrCodeLifecycle: Run re-entered, or a suspension misused.
	ErrCodeLifecycle
	// ErrCodeUserCallback: an error escaped a user callback.
	ErrCodeUserCallback
)

// Error is the structured error carried by every failure the loop
// produces. Context holds machine-readable detail such as the callback
// id or the offending file descriptor.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	// Cause is the wrapped underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// WithContext attaches a key/value pair and returns the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewError creates a structured error with the given code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a structured error wrapping cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the ErrorCode of err, or ErrCodeOK when err is not a
// structured loop error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeOK
}

// InvalidCallbackError builds the canonical unknown-id error. The
// TracingDriver augments it with creation and cancellation traces.
func InvalidCallbackError(callbackID string) *Error {
	return NewError(ErrCodeInvalidCallback, fmt.Sprintf("invalid callback identifier %q", callbackID)).
		WithContext("callback_id", callbackID)
}

// UnsupportedFeatureError reports a missing backend capability.
func UnsupportedFeatureError(feature string) *Error {
	return NewError(ErrCodeUnsupportedFeature, fmt.Sprintf("unsupported feature: %s", feature)).
		WithContext("feature", feature)
}
