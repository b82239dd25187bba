package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/stratum/internal/logging"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/orchestrator"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ActiveSessionsURI is the resource listing the active sessions of the cluster.
const ActiveSessionsURI = "stratum://sessions/active"

// ExecuteResponse is the structured answer of execute_strategy.
type ExecuteResponse struct {
	Result *domain.ExecutionResult `json:"result,omitempty" jsonschema_description:"The stored result of the session"`
	Error  string                  `json:"error,omitempty" jsonschema_description:"Failure message when the strategy did not complete"`
	Kind   string                  `json:"kind,omitempty" jsonschema_description:"Failure class (execution_failed, validation_failed, cancelled)"`
}

// SessionResponse is the structured answer of inspect_session.
type SessionResponse struct {
	Session *domain.Session         `json:"session" jsonschema_description:"The current session view"`
	Result  *domain.ExecutionResult `json:"result,omitempty" jsonschema_description:"The final result once the session is terminal"`
}

// ListResponse is the structured answer of list_sessions.
type ListResponse struct {
	Sessions []string `json:"sessions" jsonschema_description:"IDs of the active sessions"`
}

// CancelResponse is the structured answer of cancel_session.
type CancelResponse struct {
	SessionID string       `json:"session_id"`
	Phase     domain.Phase `json:"phase"`
}

// Coordinator defines the operations the MCP server exposes as tools.
type Coordinator interface {
	Execute(ctx context.Context, strategyID string, input map[string]any, opts ...orchestrator.CallOption) (*domain.ExecutionResult, error)
	Cancel(ctx context.Context, sessionID, reason string) error
	Inspect(ctx context.Context, sessionID string) (*domain.Session, error)
	Result(ctx context.Context, sessionID string) (*domain.ExecutionResult, error)
	ListActive(ctx context.Context, nodeID string) ([]string, error)
}

// Server wraps a Coordinator and exposes it as an MCP Server.
type Server struct {
	coordinator Coordinator
	mcpServer   *server.MCPServer
	logger      *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(coordinator Coordinator, version string, opts ...Option) *Server {
	s := &Server{
		coordinator: coordinator,
		mcpServer:   server.NewMCPServer("stratum-mcp", strings.TrimSpace(version)),
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("Shutdown signal received, shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	executeTool := mcp.NewTool("execute_strategy",
		mcp.WithDescription("Run a strategy under its cluster-wide lock and return the stored result."),
		mcp.WithString("strategy_id", mcp.Required(), mcp.Description("The strategy to run")),
		mcp.WithString("context", mcp.Description("JSON object bound to the session as its input (optional)")),
		mcp.WithOutputSchema[ExecuteResponse](),
	)
	s.mcpServer.AddTool(executeTool, mcp.NewStructuredToolHandler(s.handleExecute))

	inspectTool := mcp.NewTool("inspect_session",
		mcp.WithDescription("Show the phase, annotations and result of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithOutputSchema[SessionResponse](),
	)
	s.mcpServer.AddTool(inspectTool, mcp.NewStructuredToolHandler(s.handleInspect))

	listTool := mcp.NewTool("list_sessions",
		mcp.WithDescription("List active sessions, optionally only those owned by one node."),
		mcp.WithString("node_id", mcp.Description("Owner node filter (optional)")),
		mcp.WithOutputSchema[ListResponse](),
	)
	s.mcpServer.AddTool(listTool, mcp.NewStructuredToolHandler(s.handleList))

	cancelTool := mcp.NewTool("cancel_session",
		mcp.WithDescription("Cancel a running session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("reason", mcp.Description("Why the session is cancelled")),
		mcp.WithOutputSchema[CancelResponse](),
	)
	s.mcpServer.AddTool(cancelTool, mcp.NewStructuredToolHandler(s.handleCancel))
}

// Handler methods for structured tools

func (s *Server) handleExecute(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ExecuteResponse, error) {
	strategyID, _ := args["strategy_id"].(string)
	if strategyID == "" {
		return ExecuteResponse{}, errors.New("strategy_id is required")
	}

	input := make(map[string]interface{})
	if ctxStr, ok := args["context"].(string); ok && ctxStr != "" {
		if err := json.Unmarshal([]byte(ctxStr), &input); err != nil {
			return ExecuteResponse{}, fmt.Errorf("context must be a JSON object: %w", err)
		}
	}

	result, err := s.coordinator.Execute(ctx, strategyID, input)
	if err != nil {
		if result == nil {
			return ExecuteResponse{}, fmt.Errorf("execute failed: %w", err)
		}
		// The session reached a terminal phase; the failure is part of the answer.
		s.logger.Warn("MCP Execute: Strategy failed", "strategy_id", strategyID, "err", err)
		return ExecuteResponse{Result: result, Error: err.Error(), Kind: domain.Classify(err)}, nil
	}
	return ExecuteResponse{Result: result}, nil
}

func (s *Server) handleInspect(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResponse, error) {
	sessionID, _ := args["session_id"].(string)
	session, err := s.coordinator.Inspect(ctx, sessionID)
	if err != nil {
		return SessionResponse{}, fmt.Errorf("inspect failed: %w", err)
	}

	resp := SessionResponse{Session: session}
	if session.IsTerminal() {
		result, err := s.coordinator.Result(ctx, sessionID)
		if err == nil {
			resp.Result = result
		} else if !errors.Is(err, domain.ErrNotFound) {
			return SessionResponse{}, fmt.Errorf("load result: %w", err)
		}
	}
	return resp, nil
}

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ListResponse, error) {
	nodeID, _ := args["node_id"].(string)
	ids, err := s.coordinator.ListActive(ctx, nodeID)
	if err != nil {
		return ListResponse{}, fmt.Errorf("list failed: %w", err)
	}
	return ListResponse{Sessions: ids}, nil
}

func (s *Server) handleCancel(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (CancelResponse, error) {
	sessionID, _ := args["session_id"].(string)
	reason, _ := args["reason"].(string)
	if reason == "" {
		reason = "cancelled via mcp"
	}
	if err := s.coordinator.Cancel(ctx, sessionID, reason); err != nil {
		return CancelResponse{}, fmt.Errorf("cancel failed: %w", err)
	}
	return CancelResponse{SessionID: sessionID, Phase: domain.PhaseCancelled}, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(ActiveSessionsURI, "Active Sessions",
		mcp.WithMIMEType("application/json"),
	), s.readActiveSessions)
}

func (s *Server) readActiveSessions(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	ids, err := s.coordinator.ListActive(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	jsonBytes, _ := json.Marshal(ListResponse{Sessions: ids})

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ActiveSessionsURI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
