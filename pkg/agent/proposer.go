package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	kerrors "github.com/jllopis/kopl/pkg/errors"
	"github.com/jllopis/kopl/pkg/llm"
	"github.com/jllopis/kopl/pkg/telemetry"
	"github.com/jllopis/kopl/pkg/tools"
)

// Proposer chooses the next step for a state.
type Proposer interface {
	Propose(ctx context.Context, st *State) (Decision, error)
}

// ProposerFunc adapts a function to Proposer.
type ProposerFunc func(ctx context.Context, st *State) (Decision, error)

// Propose implements Proposer.
func (f ProposerFunc) Propose(ctx context.Context, st *State) (Decision, error) {
	return f(ctx, st)
}

const (
	finalAnswerMarker = "Final Answer: "
	defaultThought    = "Executing next step"
	finalThought      = "Providing final answer"

	// SourceLLM marks decisions parsed from an oracle reply.
	SourceLLM = "llm"
	// SourceExemplar marks decisions reused from a recorded run.
	SourceExemplar = "exemplar"
)

// LLMProposer asks the oracle for the next step.
type LLMProposer struct {
	provider    llm.Provider
	model       string
	temperature float64
	tools       []llm.Tool
	recorder    telemetry.Recorder
	tracer      trace.Tracer
}

// LLMOption configures an LLMProposer.
type LLMOption func(*LLMProposer)

// WithTemperature sets the sampling temperature. The default is 0.
func WithTemperature(t float64) LLMOption {
	return func(p *LLMProposer) {
		p.temperature = t
	}
}

// WithTools replaces the tool definitions offered to the oracle.
func WithTools(defs []llm.Tool) LLMOption {
	return func(p *LLMProposer) {
		p.tools = defs
	}
}

// WithOracleRecorder sets the metrics recorder for oracle calls.
func WithOracleRecorder(r telemetry.Recorder) LLMOption {
	return func(p *LLMProposer) {
		p.recorder = telemetry.OrNop(r)
	}
}

// NewLLMProposer creates a proposer over provider offering the full tool
// catalog.
func NewLLMProposer(provider llm.Provider, model string, opts ...LLMOption) *LLMProposer {
	p := &LLMProposer{
		provider: provider,
		model:    model,
		tools:    tools.Definitions(),
		recorder: telemetry.NopRecorder{},
		tracer:   otel.Tracer("kopl/agent"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Propose appends the rendered state to the conversation and parses the
// oracle reply.
func (p *LLMProposer) Propose(ctx context.Context, st *State) (Decision, error) {
	st.Messages = append(st.Messages, llm.Message{
		Role:    llm.RoleUser,
		Content: FormatState(st.Question, st.History),
	})

	ctx, span := p.tracer.Start(ctx, "Oracle.Chat")
	defer span.End()

	started := time.Now()
	resp, err := p.provider.Chat(ctx, llm.ChatRequest{
		Model:       p.model,
		Messages:    st.Messages,
		Tools:       p.tools,
		Temperature: p.temperature,
	})
	p.recorder.OracleCall(ctx, err == nil, time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, err
	}
	span.SetAttributes(telemetry.LLMAttributes(p.model, len(st.Messages), len(resp.ToolCalls),
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens)...)

	d, err := ParseResponse(resp)
	if err != nil {
		// Unparseable replies are taken as the answer.
		slog.WarnContext(ctx, "agent.oracle.parse_failure",
			slog.String("error_code", string(kerrors.CodeOracleParse)),
			slog.String("response", resp.Content),
		)
	}
	return d, nil
}

// ParseResponse turns an oracle reply into a decision. A native tool call
// wins, then a "Final Answer: " marker, then textual Action and Arguments
// lines. When none is found the whole reply becomes the final answer and
// an ORACLE_PARSE_FAILURE error is returned alongside it.
func ParseResponse(resp *llm.ChatResponse) (Decision, error) {
	if len(resp.ToolCalls) > 0 {
		call := resp.ToolCalls[0]
		thought := strings.TrimSpace(resp.Content)
		if thought == "" {
			thought = defaultThought
		}
		return Decision{
			Thought: thought,
			Action:  &Action{Tool: tools.NormalizeName(call.Function.Name), Args: rawArgs(call.Function.Arguments)},
			Source:  SourceLLM,
		}, nil
	}

	if answer, ok := cutFinalAnswer(resp.Content); ok {
		return Decision{Thought: finalThought, FinalAnswer: answer, Source: SourceLLM}, nil
	}
	if d, ok := parseTextAction(resp.Content); ok {
		return d, nil
	}
	return Decision{Thought: finalThought, FinalAnswer: resp.Content, Source: SourceLLM},
		kerrors.Newf(kerrors.CodeOracleParse, "no tool call or final answer in oracle reply")
}

// cutFinalAnswer returns the text between the first marker and the next one.
func cutFinalAnswer(content string) (string, bool) {
	_, after, ok := strings.Cut(content, finalAnswerMarker)
	if !ok {
		return "", false
	}
	answer, _, _ := strings.Cut(after, finalAnswerMarker)
	return strings.TrimSpace(answer), true
}

func parseTextAction(content string) (Decision, bool) {
	lines := strings.Split(content, "\n")
	var (
		tool    string
		thought []string
		args    json.RawMessage
	)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case tool == "" && strings.HasPrefix(trimmed, "Action:"):
			tool = strings.TrimSpace(strings.TrimPrefix(trimmed, "Action:"))
		case tool == "" && strings.HasPrefix(trimmed, "Thought:"):
			thought = append(thought, strings.TrimSpace(strings.TrimPrefix(trimmed, "Thought:")))
		case tool == "" && trimmed != "":
			thought = append(thought, trimmed)
		case strings.HasPrefix(trimmed, "Arguments:"):
			rest := strings.TrimPrefix(trimmed, "Arguments:")
			rest += "\n" + strings.Join(lines[i+1:], "\n")
			var v json.RawMessage
			if err := json.NewDecoder(strings.NewReader(rest)).Decode(&v); err != nil {
				return Decision{}, false
			}
			args = v
		}
		if args != nil {
			break
		}
	}
	if tool == "" {
		return Decision{}, false
	}
	text := strings.TrimSpace(strings.Join(thought, " "))
	if text == "" {
		text = defaultThought
	}
	return Decision{
		Thought: text,
		Action:  &Action{Tool: tools.NormalizeName(tool), Args: rawArgs(string(args))},
		Source:  SourceLLM,
	}, true
}

func rawArgs(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return json.RawMessage("{}")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return json.RawMessage(s)
	}
	return buf.Bytes()
}
