package llm

import (
	"context"
	"fmt"
	"strings"
)

// CannedOracle replies to every request with a final answer and never calls
// a tool. The answer registered for the question wins over Default.
type CannedOracle struct {
	Answers map[string]string
	Default string
}

// NewCannedOracle returns an oracle answering def to every question.
func NewCannedOracle(def string) *CannedOracle {
	return &CannedOracle{Answers: map[string]string{}, Default: def}
}

func (c *CannedOracle) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	answer := c.Default
	if q, ok := questionOf(req); ok {
		if a, found := c.Answers[q]; found {
			answer = a
		}
	}
	return &ChatResponse{Content: "Final Answer: " + answer}, nil
}

// questionOf extracts the question from the latest state message.
func questionOf(req ChatRequest) (string, bool) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		msg := req.Messages[i]
		if msg.Role != RoleUser {
			continue
		}
		rest, ok := strings.CutPrefix(msg.Content, "Question: ")
		if !ok {
			continue
		}
		q, _, _ := strings.Cut(rest, "\n")
		return strings.TrimSpace(q), true
	}
	return "", false
}

// FailingMockProvider always fails.
type FailingMockProvider struct {
	Err error
}

func (f *FailingMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if f.Err == nil {
		return nil, fmt.Errorf("mock error")
	}
	return nil, f.Err
}
