package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ScriptedMockProvider returns a pre-defined sequence of responses and keeps
// every request it received. Useful for multi-turn agent tests.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []ChatResponse
	Requests  []ChatRequest
	Err       error
	// CallCount tracks how many times Chat has been called
	CallCount int
}

// NewScriptedMockProvider creates a provider replying with each text in turn.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	s := &ScriptedMockProvider{}
	for _, r := range responses {
		s.AddResponse(r)
	}
	return s
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Requests = append(s.Requests, req)

	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	resp := s.Responses[0]
	s.Responses = s.Responses[1:]
	resp.Usage = Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}
	return &resp, nil
}

// AddResponse appends a text response to the queue.
func (s *ScriptedMockProvider) AddResponse(response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, ChatResponse{Content: response})
}

// AddToolCall appends a response carrying one native tool call. args is the
// JSON arguments object.
func (s *ScriptedMockProvider) AddToolCall(thought, name, args string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, ChatResponse{
		Content: thought,
		ToolCalls: []ToolCall{{
			ID:       fmt.Sprintf("call_%d", len(s.Responses)+1),
			Type:     ToolTypeFunction,
			Function: FunctionCall{Name: name, Arguments: args},
		}},
	})
}

// LastRequest returns the most recent request, if any.
func (s *ScriptedMockProvider) LastRequest() (ChatRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Requests) == 0 {
		return ChatRequest{}, false
	}
	return s.Requests[len(s.Requests)-1], true
}
