package agent

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jllopis/kopl/pkg/engine"
	kerrors "github.com/jllopis/kopl/pkg/errors"
	"github.com/jllopis/kopl/pkg/kb/kbtest"
	"github.com/jllopis/kopl/pkg/kopl"
	"github.com/jllopis/kopl/pkg/llm"
	"github.com/jllopis/kopl/pkg/memory"
	"github.com/jllopis/kopl/pkg/program"
	"github.com/jllopis/kopl/pkg/tools"
)

func newTestLoop(t *testing.T, p Proposer, opts ...Option) *Loop {
	t.Helper()
	e := engine.New(kbtest.Fixture(t))
	return NewLoop(p, func() *tools.Session { return tools.NewSession(e) }, opts...)
}

func TestLoopAnswersQuestion(t *testing.T) {
	oracle := llm.NewScriptedMockProvider()
	oracle.AddToolCall("", "FindAll", `{}`)
	oracle.AddToolCall("keep capitals", "functions.FilterConcept", `{"entities":"Last step result","concept_name":"capital city"}`)
	oracle.AddToolCall("count", "Count", `{"entities":"Last step result"}`)
	oracle.AddResponse("Two capitals.\nFinal Answer: 2")

	l := newTestLoop(t, NewLLMProposer(oracle, "test-model"))
	res, err := l.Run(context.Background(), "How many capital cities are there?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Termination != TerminationAnswer || res.Answer != "2" {
		t.Fatalf("unexpected result %+v", res)
	}
	want := "Final Answer: 2\n\nReasoning:\nStep 1: Executing next step\nStep 2: keep capitals\nStep 3: count\nStep 4: Providing final answer"
	if res.Output != want {
		t.Fatalf("output mismatch:\n%s", res.Output)
	}
	if len(res.History) != 4 || res.History[1].Action.Tool != "FilterConcept" || res.History[2].Result != "2" {
		t.Fatalf("unexpected history %+v", res.History)
	}
	if res.RunID == "" {
		t.Fatalf("expected a run id")
	}

	if oracle.CallCount != 4 {
		t.Fatalf("expected 4 oracle calls, got %d", oracle.CallCount)
	}
	first := oracle.Requests[0]
	if len(first.Messages) != 3 || first.Messages[0].Role != llm.RoleSystem || first.Messages[1].Content != "How many capital cities are there?" {
		t.Fatalf("unexpected first request %+v", first.Messages)
	}
	if len(first.Tools) != 27 || first.Model != "test-model" {
		t.Fatalf("expected 27 tools for test-model, got %d for %s", len(first.Tools), first.Model)
	}
	last := oracle.Requests[3].Messages
	if len(last) != 9 {
		t.Fatalf("expected 9 messages in the last request, got %d", len(last))
	}
	if last[7].Role != llm.RoleAssistant || last[7].Content != "Executed Count, result: 2" {
		t.Fatalf("unexpected tool feedback %+v", last[7])
	}
	if last[8].Content != FormatState(res.Question, res.History[:3]) {
		t.Fatalf("last state mismatch:\n%s", last[8].Content)
	}
}

func TestLoopStepBudget(t *testing.T) {
	calls := 0
	oracle := llm.ProviderFunc(func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		return &llm.ChatResponse{ToolCalls: []llm.ToolCall{{
			Type:     llm.ToolTypeFunction,
			Function: llm.FunctionCall{Name: "FindAll", Arguments: "{}"},
		}}}, nil
	})
	l := newTestLoop(t, NewLLMProposer(oracle, "m"))
	res, err := l.Run(context.Background(), "never ends")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != DefaultMaxSteps {
		t.Fatalf("expected %d oracle calls, got %d", DefaultMaxSteps, calls)
	}
	if res.Output != TooManySteps || res.Termination != TerminationBudget {
		t.Fatalf("unexpected termination %q: %s", res.Termination, res.Output)
	}
	if len(res.History) != DefaultMaxSteps || res.Answer != "" {
		t.Fatalf("expected %d steps and no answer, got %d / %q", DefaultMaxSteps, len(res.History), res.Answer)
	}
}

func TestLoopCustomBudget(t *testing.T) {
	calls := 0
	p := ProposerFunc(func(ctx context.Context, st *State) (Decision, error) {
		calls++
		return Decision{Thought: "again", Action: &Action{Tool: "FindAll", Args: json.RawMessage(`{}`)}}, nil
	})
	res, err := newTestLoop(t, p, WithMaxSteps(3)).Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 3 || res.Termination != TerminationBudget {
		t.Fatalf("expected 3 proposals before the budget, got %d (%s)", calls, res.Termination)
	}
}

func TestLoopRecordsToolErrors(t *testing.T) {
	oracle := llm.NewScriptedMockProvider()
	oracle.AddToolCall("try", "Teleport", `{}`)
	oracle.AddToolCall("count nothing", "Count", `{"entities":"Last step result"}`)
	oracle.AddResponse("Final Answer: unknown")

	res, err := newTestLoop(t, NewLLMProposer(oracle, "m")).Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Termination != TerminationAnswer || len(res.History) != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	for i, prefix := range []string{"Error executing tool Teleport: ", "Error executing tool Count: "} {
		step := res.History[i]
		if !step.Failed || !strings.HasPrefix(step.Result, prefix) {
			t.Fatalf("step %d: expected failure %q, got %+v", i, prefix, step)
		}
	}
}

func TestLoopOracleFailure(t *testing.T) {
	sentinel := errors.New("connection refused")
	res, err := newTestLoop(t, NewLLMProposer(&llm.FailingMockProvider{Err: sentinel}, "m")).Run(context.Background(), "q")
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected oracle error, got %v", err)
	}
	if res == nil || res.Termination != TerminationError {
		t.Fatalf("expected error termination, got %+v", res)
	}
}

func TestParseResponse(t *testing.T) {
	cases := []struct {
		name    string
		resp    llm.ChatResponse
		want    Decision
		parseOK bool
	}{
		{
			name: "native call without content",
			resp: llm.ChatResponse{ToolCalls: []llm.ToolCall{{Function: llm.FunctionCall{Name: "functions.Find", Arguments: `{ "name": "Paris" }`}}}},
			want: Decision{Thought: "Executing next step", Action: &Action{Tool: "Find", Args: json.RawMessage(`{"name":"Paris"}`)}, Source: SourceLLM},
			parseOK: true,
		},
		{
			name: "native call with empty arguments",
			resp: llm.ChatResponse{Content: "start", ToolCalls: []llm.ToolCall{{Function: llm.FunctionCall{Name: "FindAll"}}}},
			want: Decision{Thought: "start", Action: &Action{Tool: "FindAll", Args: json.RawMessage(`{}`)}, Source: SourceLLM},
			parseOK: true,
		},
		{
			name:    "final answer",
			resp:    llm.ChatResponse{Content: "I know.\nFinal Answer: Paris"},
			want:    Decision{Thought: "Providing final answer", FinalAnswer: "Paris", Source: SourceLLM},
			parseOK: true,
		},
		{
			name:    "repeated marker",
			resp:    llm.ChatResponse{Content: "Final Answer: 2 Final Answer: 3"},
			want:    Decision{Thought: "Providing final answer", FinalAnswer: "2", Source: SourceLLM},
			parseOK: true,
		},
		{
			name: "textual action",
			resp: llm.ChatResponse{Content: "Thought: filter the cities\nAction: FilterConcept\nArguments: {\n  \"entities\": \"Last step result\",\n  \"concept_name\": \"city\"\n}\nsome trailing text"},
			want: Decision{Thought: "filter the cities", Action: &Action{Tool: "FilterConcept",
				Args: json.RawMessage(`{"entities":"Last step result","concept_name":"city"}`)}, Source: SourceLLM},
			parseOK: true,
		},
		{
			name:    "textual action without arguments",
			resp:    llm.ChatResponse{Content: "Action: functions.FindAll"},
			want:    Decision{Thought: "Executing next step", Action: &Action{Tool: "FindAll", Args: json.RawMessage(`{}`)}, Source: SourceLLM},
			parseOK: true,
		},
		{
			name: "unparseable",
			resp: llm.ChatResponse{Content: "The answer is probably Paris"},
			want: Decision{Thought: "Providing final answer", FinalAnswer: "The answer is probably Paris", Source: SourceLLM},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseResponse(&tc.resp)
			if tc.parseOK && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !tc.parseOK && !kerrors.HasCode(err, kerrors.CodeOracleParse) {
				t.Fatalf("expected ORACLE_PARSE_FAILURE, got %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("decision mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLLMProposerFallsBackToWholeReply(t *testing.T) {
	oracle := llm.NewScriptedMockProvider("no marker here")
	res, err := newTestLoop(t, NewLLMProposer(oracle, "m")).Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Answer != "no marker here" || res.Termination != TerminationAnswer {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFormatState(t *testing.T) {
	history := []Step{
		{Thought: "Executing next step", Action: &Action{Tool: "FindAll", Args: json.RawMessage(`{}`)}, Result: "Result is too long"},
		{Thought: "count", Action: &Action{Tool: "Count", Args: json.RawMessage(`{"entities": "Last step result"}`)}, Result: "2"},
	}
	want := "Question: q?\n\nExecution history:\n" +
		"\nStep 1:\nThought: Executing next step\nAction: FindAll\nArguments: {}\nResult: Result is too long\n" +
		"\nStep 2:\nThought: count\nAction: Count\nArguments: {\"entities\":\"Last step result\"}\nResult: 2\n" +
		"\nWhat should be the next step?"
	if got := FormatState("q?", history); got != want {
		t.Fatalf("state mismatch:\n%s", got)
	}
	if got := FormatState("q?", nil); got != "Question: q?\n\nExecution history:\n\nWhat should be the next step?" {
		t.Fatalf("empty state mismatch:\n%s", got)
	}
}

func TestObservationUsesLastThreeSteps(t *testing.T) {
	history := []Step{
		{Thought: "a", Result: "1"},
		{Thought: "b", Result: "2"},
		{Thought: "c", Result: "3"},
		{Thought: "d", Result: "4"},
	}
	if got := Observation(history); got != "b 2 c 3 d 4" {
		t.Fatalf("unexpected observation %q", got)
	}
}

// bagEmbedder hashes words into a fixed number of buckets.
type bagEmbedder struct{}

func (bagEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 64)
	for _, w := range strings.Fields(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%64]++
	}
	vec[0] += 0.001
	return vec, nil
}

func TestExemplarProposer(t *testing.T) {
	ctx := context.Background()
	index := memory.NewIndex(memory.NewInMemoryStore(), bagEmbedder{}, "exemplars")
	if err := index.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	fallbacks := 0
	fallback := ProposerFunc(func(ctx context.Context, st *State) (Decision, error) {
		fallbacks++
		return Decision{Thought: "fallback", FinalAnswer: "x", Source: SourceLLM}, nil
	})
	p := NewExemplarProposer(index, fallback, WithThreshold(0.99))

	recorded := &Result{History: []Step{
		{Thought: "start", Action: &Action{Tool: "FindAll", Args: json.RawMessage(`{}`)}, Result: "many"},
		{Thought: "keep capitals", Action: &Action{Tool: "FilterConcept", Args: json.RawMessage(`{"entities":"Last step result","concept_name":"capital city"}`)}, Result: "two"},
		{Thought: "count them", Action: &Action{Tool: "Count", Args: json.RawMessage(`{"entities":"Last step result"}`)}, Result: "2"},
		{Thought: "Providing final answer", FinalAnswer: "2", Final: true},
	}}
	n, err := p.Record(ctx, recorded)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one exemplar, got %d", n)
	}

	d, err := p.Propose(ctx, &State{History: recorded.History[:1]})
	if err != nil || d.Source != SourceLLM || fallbacks != 1 {
		t.Fatalf("short history must use the fallback: %+v, %v", d, err)
	}

	d, err = p.Propose(ctx, &State{History: recorded.History[:2]})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	want := Decision{Thought: "count them", Action: &Action{Tool: "Count", Args: json.RawMessage(`{"entities":"Last step result"}`)}, Source: SourceExemplar}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Fatalf("exemplar decision mismatch (-want +got):\n%s", diff)
	}

	other := []Step{{Thought: "look up Berlin", Result: "Q4"}, {Thought: "query its population", Result: "3645000"}}
	if d, _ := p.Propose(ctx, &State{History: other}); d.Source != SourceLLM || fallbacks != 2 {
		t.Fatalf("unrelated history must use the fallback: %+v", d)
	}
}

func TestHints(t *testing.T) {
	p := program.Program{
		{Function: "Find", Dependencies: []int{}, Inputs: []string{"Paris"}},
		{Function: "Relate", Dependencies: []int{0}, Inputs: []string{"country", "forward"}},
	}
	want := "Which country?\nRelated relations and entities are ['Paris', 'country', 'forward']"
	if got := WithHints("Which country?", p); got != want {
		t.Fatalf("unexpected hints %q", got)
	}
}

func TestEvaluate(t *testing.T) {
	oracle := llm.NewScriptedMockProvider("Final Answer: 2", "Final Answer: 3")
	l := newTestLoop(t, NewLLMProposer(oracle, "m"))
	samples := []program.Sample{
		{ID: "1", Question: "How many capitals?", Answer: "2", Program: program.Program{{Function: "FindAll", Dependencies: []int{}, Inputs: []string{}}}},
		{ID: "2", Question: "How many cities?", Answer: "4", Program: program.Program{{Function: "Find", Dependencies: []int{}, Inputs: []string{"Lyon"}}}},
	}
	report, err := Evaluate(context.Background(), l, samples, true, kopl.DefaultPolicy)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Total != 2 || report.Correct != 1 || report.Accuracy() != 0.5 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !report.Records[0].Correct || report.Records[1].Correct {
		t.Fatalf("unexpected records %+v", report.Records)
	}
	question := oracle.Requests[1].Messages[1].Content
	if question != "How many cities?\nRelated relations and entities are ['Lyon']" {
		t.Fatalf("hints not appended: %q", question)
	}
}
