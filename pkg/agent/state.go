package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jllopis/kopl/pkg/llm"
)

// Action is a tool invocation chosen by a proposer.
type Action struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// Step is one entry of the execution history. Tool steps carry an Action
// and its displayed Result; the terminal step carries FinalAnswer.
type Step struct {
	Thought     string  `json:"thought"`
	Action      *Action `json:"action,omitempty"`
	Result      string  `json:"result,omitempty"`
	Failed      bool    `json:"failed,omitempty"`
	FinalAnswer string  `json:"final_answer,omitempty"`
	Final       bool    `json:"final,omitempty"`
}

// State is what a proposer sees on each iteration. Messages is the running
// oracle conversation; proposers that talk to the oracle append to it.
type State struct {
	Question string
	History  []Step
	Messages []llm.Message
}

// Decision is the next action proposed for a state: either a tool call or a
// final answer.
type Decision struct {
	Thought     string
	Action      *Action
	FinalAnswer string
	// Source names the proposer that produced the decision.
	Source string
}

// IsFinal reports whether the decision ends the run.
func (d Decision) IsFinal() bool { return d.Action == nil }

// FormatState renders the question and history as the state description
// sent to the oracle on every iteration.
func FormatState(question string, history []Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nExecution history:\n", question)
	for i, step := range history {
		fmt.Fprintf(&b, "\nStep %d:\n", i+1)
		fmt.Fprintf(&b, "Thought: %s\n", step.Thought)
		if step.Action == nil {
			continue
		}
		fmt.Fprintf(&b, "Action: %s\n", step.Action.Tool)
		fmt.Fprintf(&b, "Arguments: %s\n", formatArgs(step.Action.Args))
		fmt.Fprintf(&b, "Result: %s\n", step.Result)
	}
	b.WriteString("\nWhat should be the next step?")
	return b.String()
}

func formatArgs(args json.RawMessage) string {
	if len(args) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Sprintf("%s does not match the tool schema", args)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(args)
	}
	return string(out)
}

// Observation summarizes the last three history entries as thought and
// result pairs. It keys the exemplar decision path.
func Observation(history []Step) string {
	start := max(len(history)-3, 0)
	parts := make([]string, 0, len(history)-start)
	for _, step := range history[start:] {
		parts = append(parts, step.Thought+" "+step.Result)
	}
	return strings.Join(parts, " ")
}

// FormatAnswer renders the final answer followed by the reasoning trace.
func FormatAnswer(answer string, history []Step) string {
	lines := make([]string, 0, len(history))
	for i, step := range history {
		lines = append(lines, fmt.Sprintf("Step %d: %s", i+1, step.Thought))
	}
	return fmt.Sprintf("Final Answer: %s\n\nReasoning:\n%s", answer, strings.Join(lines, "\n"))
}
