// Package agent runs the question answering loop: a proposer picks one tool
// call at a time, the tool session executes it against the knowledge base,
// and the loop ends on a final answer or when the step budget runs out.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kopl/pkg/core"
	kerrors "github.com/jllopis/kopl/pkg/errors"
	"github.com/jllopis/kopl/pkg/llm"
	"github.com/jllopis/kopl/pkg/telemetry"
	"github.com/jllopis/kopl/pkg/tools"
)

// DefaultMaxSteps bounds the number of proposals per run.
const DefaultMaxSteps = 12

// Run terminations.
const (
	TerminationAnswer = "final_answer"
	TerminationBudget = "step_budget"
	TerminationError  = "error"
)

// Result is the outcome of one run.
type Result struct {
	RunID    string `json:"run_id"`
	Question string `json:"question"`
	History  []Step `json:"history"`
	// Answer is the bare final answer; empty when the budget ran out.
	Answer string `json:"answer"`
	// Output is the user-facing text: the answer with its reasoning trace or
	// the too-many-steps notice.
	Output      string `json:"output"`
	Termination string `json:"termination"`
}

// Loop drives one proposer against a tool session.
type Loop struct {
	proposer     Proposer
	newSession   func() *tools.Session
	maxSteps     int
	systemPrompt string
	recorder     telemetry.Recorder
	tracer       trace.Tracer
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxSteps sets the step budget.
func WithMaxSteps(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxSteps = n
		}
	}
}

// WithSystemPrompt replaces the system instruction.
func WithSystemPrompt(prompt string) Option {
	return func(l *Loop) {
		l.systemPrompt = prompt
	}
}

// WithRecorder sets the metrics recorder for runs.
func WithRecorder(r telemetry.Recorder) Option {
	return func(l *Loop) {
		l.recorder = telemetry.OrNop(r)
	}
}

// NewLoop creates a loop. newSession is called once per run so concurrent
// runs never share the last-result state.
func NewLoop(p Proposer, newSession func() *tools.Session, opts ...Option) *Loop {
	l := &Loop{
		proposer:     p,
		newSession:   newSession,
		maxSteps:     DefaultMaxSteps,
		systemPrompt: SystemPrompt,
		recorder:     telemetry.NopRecorder{},
		tracer:       otel.Tracer("kopl/agent"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxSteps returns the step budget.
func (l *Loop) MaxSteps() int { return l.maxSteps }

// Run answers question. Tool failures are recorded as failed steps and the
// run continues. A non-nil error means the proposer could not be consulted
// (oracle transport failure or cancellation); the partial result is still
// returned.
func (l *Loop) Run(ctx context.Context, question string) (*Result, error) {
	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := l.tracer.Start(ctx, "Agent.Run")
	defer span.End()
	span.SetAttributes(telemetry.RunAttributes(runID, question, l.maxSteps)...)

	slog.InfoContext(ctx, "agent.run.start",
		slog.String("question", question),
		slog.Int("max_steps", l.maxSteps),
	)

	session := l.newSession()
	st := &State{
		Question: question,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: l.systemPrompt},
			{Role: llm.RoleUser, Content: question},
		},
	}
	res := &Result{RunID: runID, Question: question}

	finish := func(termination string) {
		res.History = st.History
		res.Termination = termination
		span.SetAttributes(
			attribute.String(telemetry.AttrTermination, termination),
			attribute.Int(telemetry.AttrStep, len(st.History)),
		)
		l.recorder.AgentRun(ctx, termination, len(st.History))
	}

	for step := range l.maxSteps {
		d, err := l.proposer.Propose(ctx, st)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.ErrorContext(ctx, "agent.propose.error",
				slog.Int("step", step),
				slog.String("error", err.Error()),
				slog.String("error_code", string(kerrors.CodeOf(err))),
			)
			finish(TerminationError)
			return res, err
		}

		if d.IsFinal() {
			st.History = append(st.History, Step{Thought: d.Thought, FinalAnswer: d.FinalAnswer, Final: true})
			res.Answer = d.FinalAnswer
			res.Output = FormatAnswer(d.FinalAnswer, st.History)
			finish(TerminationAnswer)
			slog.InfoContext(ctx, "agent.run.complete",
				slog.Int("steps", len(st.History)),
				slog.String("answer", d.FinalAnswer),
			)
			return res, nil
		}

		out := l.execute(ctx, session, step, d)
		st.History = append(st.History, Step{
			Thought: d.Thought,
			Action:  &Action{Tool: out.Tool, Args: d.Action.Args},
			Result:  out.Display,
			Failed:  out.Err != nil,
		})
		st.Messages = append(st.Messages, llm.Message{
			Role:    llm.RoleAssistant,
			Content: fmt.Sprintf("Executed %s, result: %s", out.Tool, out.Display),
		})
	}

	res.Output = TooManySteps
	finish(TerminationBudget)
	slog.WarnContext(ctx, "agent.run.budget_exceeded",
		slog.Int("steps", len(st.History)),
		slog.String("error_code", string(kerrors.CodeStepBudget)),
	)
	return res, nil
}

func (l *Loop) execute(ctx context.Context, session *tools.Session, step int, d Decision) tools.Outcome {
	ctx, span := l.tracer.Start(ctx, "Agent.Step",
		trace.WithAttributes(
			attribute.Int(telemetry.AttrStep, step),
			attribute.String(telemetry.AttrDecisionSource, d.Source),
		),
	)
	defer span.End()

	out := session.Invoke(ctx, d.Action.Tool, d.Action.Args)
	if out.Err != nil {
		span.SetStatus(codes.Error, out.Err.Error())
		slog.WarnContext(ctx, "agent.step.error",
			slog.Int("step", step),
			slog.String("tool", out.Tool),
			slog.String("error", out.Err.Error()),
			slog.String("error_code", string(kerrors.CodeOf(out.Err))),
		)
	}
	return out
}
