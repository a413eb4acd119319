// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("no such concept")
	e := New(CodeTypeMismatch, "qualifier filter needs triples", cause)

	if e.Code != CodeTypeMismatch {
		t.Errorf("expected CodeTypeMismatch, got %v", e.Code)
	}
	if e.Err != cause {
		t.Errorf("expected cause to be preserved")
	}
	if e.Context == nil {
		t.Errorf("expected context map to be initialized")
	}
}

func TestErrorString(t *testing.T) {
	e := New(CodeArityMismatch, "FilterStr expects 2 inputs", nil)
	if got := e.Error(); got != "[ARITY_MISMATCH] FilterStr expects 2 inputs" {
		t.Fatalf("unexpected error string: %q", got)
	}
	wrapped := New(CodeLLMError, "chat failed", errors.New("eof"))
	if got := wrapped.Error(); got != "[LLM_ERROR] chat failed: eof" {
		t.Fatalf("unexpected wrapped string: %q", got)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("step 3: %w", Newf(CodeUnknownFunction, "unknown function %q", "Foo"))
	if !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("expected errors.Is to match by code")
	}
	if errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("unexpected match for a different code")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), CodeInternal},
		{"typed", New(CodeOracleParse, "bad", nil), CodeOracleParse},
		{"wrapped", fmt.Errorf("ctx: %w", New(CodeStepBudget, "too many", nil)), CodeStepBudget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Fatalf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
	if !HasCode(New(CodeInvalidInput, "x", nil), CodeInvalidInput) {
		t.Fatalf("HasCode should match")
	}
}

func TestAsWrapsUnknown(t *testing.T) {
	e := As(errors.New("raw"))
	if e.Code != CodeInternal {
		t.Fatalf("expected internal code, got %s", e.Code)
	}
	if As(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestMarshalJSON(t *testing.T) {
	e := New(CodeTypeMismatch, "needs triples", errors.New("plain set")).
		WithContext("function", "QFilterStr").
		WithRecoverable(true)

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["code"] != "TYPE_MISMATCH" {
		t.Fatalf("unexpected code: %v", decoded["code"])
	}
	if decoded["error"] != "plain set" {
		t.Fatalf("unexpected cause: %v", decoded["error"])
	}
	if decoded["recoverable"] != true {
		t.Fatalf("expected recoverable=true")
	}
	if e.RecoverableString() != "true" {
		t.Fatalf("unexpected recoverable string")
	}
}
