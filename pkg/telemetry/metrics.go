// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder is the metrics surface used by the tool adapter and the agent.
type Recorder interface {
	ToolCall(ctx context.Context, tool string, success bool, seconds float64)
	OracleCall(ctx context.Context, success bool, seconds float64)
	AgentRun(ctx context.Context, termination string, steps int)
}

// NopRecorder drops every measurement.
type NopRecorder struct{}

func (NopRecorder) ToolCall(context.Context, string, bool, float64) {}
func (NopRecorder) OracleCall(context.Context, bool, float64)       {}
func (NopRecorder) AgentRun(context.Context, string, int)           {}

// OrNop returns r, or a NopRecorder when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return NopRecorder{}
	}
	return r
}

// OTelRecorder records measurements through the global OpenTelemetry meter.
type OTelRecorder struct {
	toolCalls   metric.Int64Counter
	toolSeconds metric.Float64Histogram
	oracleCalls metric.Int64Counter
	oracleSecs  metric.Float64Histogram
	runs        metric.Int64Counter
	runSteps    metric.Int64Histogram
}

// NewOTelRecorder creates the OpenTelemetry instruments.
func NewOTelRecorder() (*OTelRecorder, error) {
	meter := otel.Meter("kopl")

	toolCalls, err := meter.Int64Counter("kopl.tool.calls",
		metric.WithDescription("Tool invocations by tool and outcome"))
	if err != nil {
		return nil, err
	}
	toolSeconds, err := meter.Float64Histogram("kopl.tool.duration",
		metric.WithDescription("Tool invocation duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	oracleCalls, err := meter.Int64Counter("kopl.oracle.calls",
		metric.WithDescription("Oracle requests by outcome"))
	if err != nil {
		return nil, err
	}
	oracleSecs, err := meter.Float64Histogram("kopl.oracle.duration",
		metric.WithDescription("Oracle request duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	runs, err := meter.Int64Counter("kopl.agent.runs",
		metric.WithDescription("Agent runs by termination"))
	if err != nil {
		return nil, err
	}
	runSteps, err := meter.Int64Histogram("kopl.agent.steps",
		metric.WithDescription("Executed steps per agent run"))
	if err != nil {
		return nil, err
	}
	return &OTelRecorder{
		toolCalls:   toolCalls,
		toolSeconds: toolSeconds,
		oracleCalls: oracleCalls,
		oracleSecs:  oracleSecs,
		runs:        runs,
		runSteps:    runSteps,
	}, nil
}

// ToolCall implements Recorder.
func (r *OTelRecorder) ToolCall(ctx context.Context, tool string, success bool, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", success),
	)
	r.toolCalls.Add(ctx, 1, attrs)
	r.toolSeconds.Record(ctx, seconds, attrs)
}

// OracleCall implements Recorder.
func (r *OTelRecorder) OracleCall(ctx context.Context, success bool, seconds float64) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	r.oracleCalls.Add(ctx, 1, attrs)
	r.oracleSecs.Record(ctx, seconds, attrs)
}

// AgentRun implements Recorder.
func (r *OTelRecorder) AgentRun(ctx context.Context, termination string, steps int) {
	attrs := metric.WithAttributes(attribute.String("termination", termination))
	r.runs.Add(ctx, 1, attrs)
	r.runSteps.Record(ctx, int64(steps), attrs)
}
