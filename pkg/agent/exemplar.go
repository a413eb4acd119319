// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kopl/pkg/memory"
	"github.com/jllopis/kopl/pkg/telemetry"
)

// Exemplar payload keys.
const (
	payloadTool    = "tool"
	payloadArgs    = "args"
	payloadThought = "thought"
)

// Exemplar defaults.
const (
	DefaultExemplarThreshold  = 0.85
	DefaultExemplarMinHistory = 2
)

// ExemplarProposer reuses the tool decision recorded after the most similar
// observation. Below the score threshold, with too little history or on any
// lookup failure it defers to the fallback proposer.
type ExemplarProposer struct {
	index      *memory.Index
	fallback   Proposer
	threshold  float32
	minHistory int
}

// ExemplarOption configures an ExemplarProposer.
type ExemplarOption func(*ExemplarProposer)

// WithThreshold sets the minimum similarity score for reuse.
func WithThreshold(score float32) ExemplarOption {
	return func(p *ExemplarProposer) {
		p.threshold = score
	}
}

// WithMinHistory sets how many steps must exist before exemplars are used.
func WithMinHistory(n int) ExemplarOption {
	return func(p *ExemplarProposer) {
		if n > 0 {
			p.minHistory = n
		}
	}
}

// NewExemplarProposer creates an exemplar proposer over index.
func NewExemplarProposer(index *memory.Index, fallback Proposer, opts ...ExemplarOption) *ExemplarProposer {
	p := &ExemplarProposer{
		index:      index,
		fallback:   fallback,
		threshold:  DefaultExemplarThreshold,
		minHistory: DefaultExemplarMinHistory,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Propose implements Proposer.
func (p *ExemplarProposer) Propose(ctx context.Context, st *State) (Decision, error) {
	if len(st.History) < p.minHistory {
		return p.fallback.Propose(ctx, st)
	}
	hit, ok, err := p.index.Nearest(ctx, Observation(st.History), p.threshold)
	if err != nil {
		slog.WarnContext(ctx, "agent.exemplar.lookup_error", slog.String("error", err.Error()))
		return p.fallback.Propose(ctx, st)
	}
	if !ok {
		return p.fallback.Propose(ctx, st)
	}
	d, ok := decisionFromPayload(hit.Point.Payload)
	if !ok {
		slog.WarnContext(ctx, "agent.exemplar.invalid_payload", slog.String("id", hit.ID))
		return p.fallback.Propose(ctx, st)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Float64(telemetry.AttrExemplarScore, float64(hit.Score)))
	slog.DebugContext(ctx, "agent.exemplar.hit",
		slog.String("id", hit.ID),
		slog.Float64("score", float64(hit.Score)),
		slog.String("tool", d.Action.Tool),
	)
	return d, nil
}

// Record stores every tool decision of a finished run, keyed by the
// observation that preceded it. Final answers are question specific and are
// never recorded. It returns the number of exemplars stored.
func (p *ExemplarProposer) Record(ctx context.Context, res *Result) (int, error) {
	n := 0
	for i, step := range res.History {
		if i < p.minHistory || step.Action == nil || step.Failed {
			continue
		}
		payload := map[string]any{
			payloadTool:    step.Action.Tool,
			payloadArgs:    string(step.Action.Args),
			payloadThought: step.Thought,
		}
		if _, err := p.index.Store(ctx, Observation(res.History[:i]), payload); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func decisionFromPayload(payload map[string]any) (Decision, bool) {
	tool, _ := payload[payloadTool].(string)
	args, _ := payload[payloadArgs].(string)
	thought, _ := payload[payloadThought].(string)
	if tool == "" || !json.Valid([]byte(args)) {
		return Decision{}, false
	}
	if thought == "" {
		thought = defaultThought
	}
	return Decision{
		Thought: thought,
		Action:  &Action{Tool: tool, Args: json.RawMessage(args)},
		Source:  SourceExemplar,
	}, true
}
