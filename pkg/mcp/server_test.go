package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jllopis/kopl/pkg/engine"
	"github.com/jllopis/kopl/pkg/kb/kbtest"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer("kopl-test", "0.0.0", engine.New(kbtest.Fixture(t)))
}

type rpcResponse struct {
	Result struct {
		Tools []struct {
			Name        string          `json:"name"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func handle(t *testing.T, s *Server, msg string) rpcResponse {
	t.Helper()
	raw, err := json.Marshal(s.MCPServer().HandleMessage(context.Background(), json.RawMessage(msg)))
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode response %s: %v", raw, err)
	}
	if resp.Error != nil {
		t.Fatalf("rpc error: %s", resp.Error.Message)
	}
	return resp
}

func TestListTools(t *testing.T) {
	resp := handle(t, newTestServer(t), `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if len(resp.Result.Tools) != 27 {
		t.Fatalf("expected 27 tools, got %d", len(resp.Result.Tools))
	}
	for _, tool := range resp.Result.Tools {
		if tool.Name == "FilterConcept" && !strings.Contains(string(tool.InputSchema), "concept_name") {
			t.Fatalf("FilterConcept schema lacks concept_name: %s", tool.InputSchema)
		}
	}
}

func TestCallToolChainsWithinSession(t *testing.T) {
	s := newTestServer(t)
	handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"FindAll","arguments":{}}}`)
	handle(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"FilterConcept","arguments":{"entities":"Last step result","concept_name":"capital city"}}}`)
	resp := handle(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"Count","arguments":{"entities":"Last step result"}}}`)
	if resp.Result.IsError || len(resp.Result.Content) != 1 || resp.Result.Content[0].Text != "2" {
		t.Fatalf("unexpected result %+v", resp.Result)
	}
}

func TestCallToolErrorIsResult(t *testing.T) {
	resp := handle(t, newTestServer(t), `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"Count","arguments":{"entities":"Last step result"}}}`)
	if !resp.Result.IsError {
		t.Fatalf("expected an error result, got %+v", resp.Result)
	}
	if !strings.HasPrefix(resp.Result.Content[0].Text, "Error executing tool Count: ") {
		t.Fatalf("unexpected error text %q", resp.Result.Content[0].Text)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	if out := s.invoke(ctx, "a", "Find", json.RawMessage(`{"name":"Lyon"}`)); out.Err != nil {
		t.Fatalf("find: %v", out.Err)
	}
	if out := s.invoke(ctx, "b", "Count", json.RawMessage(`{"entities":"Last step result"}`)); out.Err == nil {
		t.Fatalf("session b must not see session a's result")
	}
	out := s.invoke(ctx, "a", "Count", json.RawMessage(`{"entities":"Last step result"}`))
	if out.Err != nil || out.Display != "1" {
		t.Fatalf("expected 1 in session a, got %q (%v)", out.Display, out.Err)
	}
	s.drop("a")
	if out := s.invoke(ctx, "a", "Count", json.RawMessage(`{"entities":"Last step result"}`)); out.Err == nil {
		t.Fatalf("dropped session must start empty")
	}
}
