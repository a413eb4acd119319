// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys.
const (
	AttrRunID       = "kopl.run_id"
	AttrQuestion    = "kopl.question"
	AttrStep        = "kopl.step"
	AttrMaxSteps    = "kopl.max_steps"
	AttrTermination = "kopl.termination"

	AttrToolName    = "kopl.tool.name"
	AttrToolArgs    = "kopl.tool.arguments"
	AttrToolResult  = "kopl.tool.result"
	AttrToolSuccess = "kopl.tool.success"
	AttrToolSource  = "kopl.tool.source" // "agent" or "mcp"

	AttrDecisionSource = "kopl.decision.source" // "llm" or "exemplar"
	AttrExemplarScore  = "kopl.exemplar.score"

	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMToolCalls    = "gen_ai.tool_calls"
)

// RunAttributes returns attributes for an agent run span.
func RunAttributes(runID, question string, maxSteps int) []attribute.KeyValue {
	if len(question) > 200 {
		question = question[:200] + "..."
	}
	return []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.String(AttrQuestion, question),
		attribute.Int(AttrMaxSteps, maxSteps),
	}
}

// ToolCallAttributes returns attributes for a tool invocation span.
func ToolCallAttributes(name, source string, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.String(AttrToolSource, source),
		attribute.Bool(AttrToolSuccess, success),
	}
}

// ToolCallArgsResult returns attributes with tool arguments and result,
// each cut at maxLen bytes.
func ToolCallArgsResult(args, result string, maxLen int) []attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = 500
	}
	attrs := []attribute.KeyValue{}
	if args != "" {
		if len(args) > maxLen {
			args = args[:maxLen] + "..."
		}
		attrs = append(attrs, attribute.String(AttrToolArgs, args))
	}
	if result != "" {
		if len(result) > maxLen {
			result = result[:maxLen] + "..."
		}
		attrs = append(attrs, attribute.String(AttrToolResult, result))
	}
	return attrs
}

// LLMAttributes returns attributes for an oracle call span.
func LLMAttributes(model string, msgCount, toolCalls, inputTokens, outputTokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if toolCalls > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMToolCalls, toolCalls))
	}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	return attrs
}
