package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/richinex/agentdock/agent"
	"github.com/richinex/agentdock/internal/errs"
	"github.com/richinex/agentdock/llm"
	"github.com/richinex/agentdock/storage"
	"github.com/richinex/agentdock/stream"
	"github.com/richinex/agentdock/tools"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// SessionKey scopes a client session id to one agent.
func SessionKey(agentID, sessionID string) string {
	return agentID + ":" + sessionID
}

// runOutcome is what the runner goroutine hands back to the handler.
type runOutcome struct {
	result agent.Result
	err    error
}

// handleChat validates the request, then streams one run as NDJSON.
// Everything that can fail with a status code happens before the first
// byte of the stream is written.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		s.writeError(w, r, errs.New(errs.CodeInvalidRequest, "message is required"))
		return
	}

	a, err := s.loadAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()

	apis, err := s.store.ListOpenAPIs(ctx, a.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	servers, err := s.store.ListMCPs(ctx, a.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var history []llm.ChatMessage
	if req.SessionID != "" {
		history, err = s.store.Load(ctx, SessionKey(a.ID, req.SessionID))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	toolset, err := s.toolset(ctx, a, apis, servers)
	if err != nil {
		s.writeError(w, r, errs.Wrap(errs.CodeInvalidRequest, err, "failed to build tools: "+err.Error()))
		return
	}
	defer toolset.Close()

	runner := agent.New(s.provider, toolset.Registry, s.config.Agent, agent.WithLogger(s.logger.With("agent_id", a.ID)))
	outcome := s.stream(w, r, runner, agent.Request{
		AgentID:      a.ID,
		Instructions: a.Instructions,
		History:      history,
		Message:      req.Message,
	})

	if outcome.err != nil || req.SessionID == "" {
		return
	}
	// The run finished and the client saw done; the save must not depend on
	// the connection staying open.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.Save(saveCtx, SessionKey(a.ID, req.SessionID), outcome.result.Messages); err != nil {
		s.logger.Error("failed to save session", "agent_id", a.ID, "session_id", req.SessionID, "error", err)
	}
}

func (s *Server) toolset(ctx context.Context, a storage.Agent, apis []storage.OpenAPIIntegration, servers []storage.MCPIntegration) (*agent.Toolset, error) {
	executor := tools.NewExecutor(tools.ToolConfigFor(s.config.ToolTimeout)).WithLogger(s.logger)
	b := agent.NewBuilder(a.ID).
		OpenAPI(apis...).
		MCP(servers...).
		HTTPClient(s.httpClient).
		Executor(executor).
		Logger(s.logger)
	if s.documents != nil {
		b = b.Retrieval(s.documents, s.config.TopK)
	}
	return b.Build(ctx)
}

// stream runs the agent in its own goroutine and pumps its events to w.
// It returns once the run has finished and the pump has stopped.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, runner *agent.Runner, req agent.Request) runOutcome {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan stream.Event, s.config.StreamBuffer)
	done := make(chan runOutcome, 1)
	go func() {
		result, err := runner.Run(ctx, req, events)
		done <- runOutcome{result: result, err: err}
	}()

	stream.SetHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := stream.Pump(ctx, events, stream.NewWriter(w)); err != nil {
		s.logger.Info("chat stream ended early", "agent_id", req.AgentID, "error", err)
		cancel()
	}
	return <-done
}
