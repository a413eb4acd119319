// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kopl/pkg/engine"
	kerrors "github.com/jllopis/kopl/pkg/errors"
	"github.com/jllopis/kopl/pkg/kopl"
	"github.com/jllopis/kopl/pkg/telemetry"
)

// Display defaults.
const (
	DefaultDisplayLimit = 500
	DefaultPreviewItems = 5
)

// Outcome is the result of one tool invocation. Result holds the full value
// and Display the text shown to the oracle. A failed invocation carries Err
// and an error Display; it never aborts the caller.
type Outcome struct {
	Tool    string
	Args    json.RawMessage
	Result  any
	Display string
	Err     error
}

// Session invokes tools against an engine and remembers the last successful
// result for LastStepResult substitution. A Session belongs to one query.
type Session struct {
	engine       *engine.Engine
	displayLimit int
	previewItems int
	source       string
	recorder     telemetry.Recorder
	tracer       trace.Tracer

	mu      sync.Mutex
	last    any
	hasLast bool
}

// Option configures a Session.
type Option func(*Session)

// WithDisplayLimit sets the serialized size above which results are summarized.
func WithDisplayLimit(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.displayLimit = n
		}
	}
}

// WithPreviewItems sets how many ids and triples a summary shows.
func WithPreviewItems(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.previewItems = n
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r telemetry.Recorder) Option {
	return func(s *Session) { s.recorder = telemetry.OrNop(r) }
}

// WithSource labels the caller in spans and logs.
func WithSource(source string) Option {
	return func(s *Session) { s.source = source }
}

// NewSession creates a session over e.
func NewSession(e *engine.Engine, opts ...Option) *Session {
	s := &Session{
		engine:       e,
		displayLimit: DefaultDisplayLimit,
		previewItems: DefaultPreviewItems,
		source:       "agent",
		recorder:     telemetry.NopRecorder{},
		tracer:       otel.Tracer("kopl/tools"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Last returns the last successful result.
func (s *Session) Last() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Reset forgets the last result.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last, s.hasLast = nil, false
}

// NormalizeName strips the "functions." prefix some oracles put on tool names.
func NormalizeName(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "functions.")
}

// Invoke decodes args, runs the tool and renders its result.
func (s *Session) Invoke(ctx context.Context, name string, args json.RawMessage) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = NormalizeName(name)
	out := Outcome{Tool: name, Args: args}
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "Tool.Invoke")
	defer span.End()

	result, err := s.call(name, args)
	s.recorder.ToolCall(ctx, name, err == nil, time.Since(started).Seconds())
	span.SetAttributes(telemetry.ToolCallAttributes(name, s.source, err == nil)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		out.Err = err
		out.Display = fmt.Sprintf("Error executing tool %s: %v", name, err)
		slog.ErrorContext(ctx, "tool.invoke.error", "tool", name, "source", s.source, "error", err)
		return out
	}

	s.last, s.hasLast = result, true
	out.Result = result
	out.Display = Display(result, s.displayLimit, s.previewItems)
	span.SetAttributes(telemetry.ToolCallArgsResult(string(args), out.Display, s.displayLimit)...)
	slog.InfoContext(ctx, "tool.invoke", "tool", name, "source", s.source, "result", out.Display)
	return out
}

func (s *Session) call(name string, raw json.RawMessage) (any, error) {
	sig, ok := engine.Lookup(name)
	if !ok {
		return nil, kerrors.Newf(kerrors.CodeUnknownFunction, "unknown tool %q", name).
			WithContext("tool", name)
	}
	fields, err := decodeArgs(raw)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(sig.Params))
	for i, p := range sig.Params {
		v, ok := fields[p.Name]
		if !ok {
			return nil, kerrors.Newf(kerrors.CodeArityMismatch, "%s: missing argument %q", name, p.Name).
				WithContext("tool", name)
		}
		delete(fields, p.Name)
		if args[i], err = s.decodeParam(p, v); err != nil {
			return nil, kerrors.New(kerrors.CodeOf(err), fmt.Sprintf("%s: argument %q", name, p.Name), err).
				WithContext("tool", name)
		}
	}
	if len(fields) > 0 {
		extra := slices.Sorted(maps.Keys(fields))
		return nil, kerrors.Newf(kerrors.CodeArityMismatch, "%s: unexpected arguments %q", name, extra).
			WithContext("tool", name)
	}
	return s.engine.Call(name, args)
}

func decodeArgs(raw json.RawMessage) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fields, nil
	}
	// Some oracles send the arguments object as a JSON string.
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, kerrors.New(kerrors.CodeInvalidInput, "arguments must be a JSON object", err)
		}
		return decodeArgs(json.RawMessage(inner))
	}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, kerrors.New(kerrors.CodeInvalidInput, "arguments must be a JSON object", err)
	}
	return fields, nil
}

func (s *Session) decodeParam(p engine.Param, raw json.RawMessage) (any, error) {
	if p.Kind != engine.KindString && isSentinel(raw) {
		if !s.hasLast {
			return nil, kerrors.Newf(kerrors.CodeInvalidInput, "%q used before any successful step", LastStepResult)
		}
		return s.last, nil
	}
	switch p.Kind {
	case engine.KindEntities:
		return kopl.DecodeEntitySet(raw)
	case engine.KindValues:
		return kopl.DecodeValues(raw)
	default:
		return decodeLiteral(raw)
	}
}

func isSentinel(raw json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return strings.TrimSpace(s) == LastStepResult
}

// decodeLiteral accepts a JSON string, or a number or boolean spelled as the
// literal text.
func decodeLiteral(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", kerrors.New(kerrors.CodeInvalidInput, "invalid string", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err == nil {
		return n.String(), nil
	}
	var b bool
	if err := json.Unmarshal(trimmed, &b); err == nil {
		return strconv.FormatBool(b), nil
	}
	return "", kerrors.Newf(kerrors.CodeTypeMismatch, "expected a string, got %s", trimmed)
}
