// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed errors for query execution.
//
// Lookup misses are never errors: primitives return empty results. The codes
// below classify the failures that abort a program or fail a single agent step.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates a literal argument could not be parsed.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeLookupFailure marks an unknown entity, attribute or relation.
	// Primitives report these as empty results; the code exists for callers
	// that need to surface a miss explicitly (e.g. an unknown concept name).
	CodeLookupFailure ErrorCode = "LOOKUP_FAILURE"

	// CodeTypeMismatch indicates an operation received the wrong value shape,
	// such as a qualifier filter on an entity set without provenance.
	CodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// CodeArityMismatch indicates the wrong number of arguments for a primitive.
	CodeArityMismatch ErrorCode = "ARITY_MISMATCH"

	// CodeUnknownFunction indicates a primitive name outside the library.
	CodeUnknownFunction ErrorCode = "UNKNOWN_FUNCTION"

	// CodeOracleParse indicates neither a tool call nor a final answer could
	// be parsed from the oracle response.
	CodeOracleParse ErrorCode = "ORACLE_PARSE_FAILURE"

	// CodeStepBudget indicates the agent hit its step ceiling.
	CodeStepBudget ErrorCode = "STEP_BUDGET_EXCEEDED"

	// CodeLLMError indicates an oracle transport error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeContextLost indicates the context was cancelled mid-operation.
	CodeContextLost ErrorCode = "CONTEXT_LOST"
)

// Error is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// Newf creates a new Error without a cause and a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// Sentinel values usable with errors.Is.
var (
	ErrTypeMismatch    = &Error{Code: CodeTypeMismatch}
	ErrArityMismatch   = &Error{Code: CodeArityMismatch}
	ErrUnknownFunction = &Error{Code: CodeUnknownFunction}
	ErrInvalidInput    = &Error{Code: CodeInvalidInput}
	ErrOracleParse     = &Error{Code: CodeOracleParse}
)

// As converts err to *Error, wrapping unknown errors as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first *Error in the chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}
