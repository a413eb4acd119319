// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the kopl CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jllopis/kopl/pkg/errors"
)

// CLIError wraps a typed error with a hint for the user.
type CLIError struct {
	Typed *errors.Error
	Hint  string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Typed: e, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Typed == nil {
		return "unknown error"
	}
	msg := e.Typed.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the typed error.
func (e *CLIError) Unwrap() error {
	if e.Typed == nil {
		return nil
	}
	return e.Typed
}

// PrintError prints the error to stderr.
func (e *CLIError) PrintError(asJSON bool) {
	if e.Typed == nil {
		fmt.Fprintln(os.Stderr, e.Error())
		return
	}
	t := e.Typed
	if asJSON {
		payload, _ := json.Marshal(map[string]any{
			"error": map[string]string{
				"code":    string(t.Code),
				"message": t.Message,
				"hint":    e.Hint,
			},
		})
		fmt.Fprintln(os.Stderr, string(payload))
		return
	}
	fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", t.Code, t.Message)
	if t.Err != nil {
		fmt.Fprintf(os.Stderr, "  Cause: %v\n", t.Err)
	}
	if e.Hint != "" {
		fmt.Fprintf(os.Stderr, "  Hint: %s\n", e.Hint)
	}
}

// NewInvalidArgumentError creates an invalid argument error.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithRecoverable(false)
	return NewCLIError(e, "run 'kopl help' for usage information")
}

// NewConfigError creates a configuration error.
func NewConfigError(err error, configPath string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check your configuration values and KOPL_ environment variables"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(e, hint)
}

// NewKBError reports a knowledge base that could not be loaded.
func NewKBError(err error, path string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "knowledge base could not be loaded", err).
		WithContext("kb_path", path).
		WithRecoverable(false)
	return NewCLIError(e, "set kb.path or pass --kb with a kb.json or YAML knowledge base")
}

// NewOracleError reports an oracle transport failure.
func NewOracleError(err error, provider string) *CLIError {
	e := errors.New(errors.CodeLLMError, "oracle unavailable", err).
		WithContext("provider", provider).
		WithRecoverable(true)
	return NewCLIError(e, fmt.Sprintf("check that the %s endpoint in llm.base_url is reachable", provider))
}
