// Package mcp exposes the query tool catalog over the Model Context Protocol.
//
// Every MCP client session gets its own tool session, so the
// "Last step result" sentinel refers to that client's previous call only.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/kopl/pkg/engine"
	"github.com/jllopis/kopl/pkg/tools"
)

const defaultSession = "default"

// Server wraps the mcp-go server and owns the per-client tool sessions.
type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
	opts      []tools.Option

	mu       sync.Mutex
	sessions map[string]*tools.Session
}

// NewServer creates an MCP server offering every catalog tool backed by e.
// opts apply to each client's tool session.
func NewServer(name, version string, e *engine.Engine, opts ...tools.Option) *Server {
	s := &Server{
		engine:   e,
		opts:     append([]tools.Option{tools.WithSource("mcp")}, opts...),
		sessions: make(map[string]*tools.Session),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		s.drop(session.SessionID())
	})

	s.mcpServer = server.NewMCPServer(name, version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Query the knowledge base one primitive at a time. "+
			"Pass \"Last step result\" as an entity or value argument to reuse your previous result."),
	)
	for _, spec := range tools.Catalog() {
		s.register(spec)
	}
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) register(spec tools.Spec) {
	schema, err := json.Marshal(spec.Schema())
	if err != nil {
		slog.Error("mcp.register.error", slog.String("tool", spec.Name), slog.String("error", err.Error()))
		return
	}
	tool := mcp.NewToolWithRawSchema(spec.Name, spec.Description, schema)
	name := spec.Name
	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(request.GetRawArguments())
		if err != nil {
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}
		out := s.invoke(ctx, sessionID(ctx), name, args)
		if out.Err != nil {
			return mcp.NewToolResultError(out.Display), nil
		}
		return mcp.NewToolResultText(out.Display), nil
	})
}

func (s *Server) invoke(ctx context.Context, session, name string, args json.RawMessage) tools.Outcome {
	return s.session(session).Invoke(ctx, name, args)
}

func (s *Server) session(id string) *tools.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.sessions[id]
	if !ok {
		ts = tools.NewSession(s.engine, s.opts...)
		s.sessions[id] = ts
	}
	return ts
}

func (s *Server) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func sessionID(ctx context.Context) string {
	if cs := server.ClientSessionFromContext(ctx); cs != nil && cs.SessionID() != "" {
		return cs.SessionID()
	}
	return defaultSession
}
