package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/stratum/internal/logging"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/migration"
	"github.com/aretw0/stratum/pkg/orchestrator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Service defines the coordinator operations exposed over HTTP.
type Service interface {
	NodeID() string
	Execute(ctx context.Context, strategyID string, input map[string]any, opts ...orchestrator.CallOption) (*domain.ExecutionResult, error)
	Cancel(ctx context.Context, sessionID, reason string) error
	Inspect(ctx context.Context, sessionID string) (*domain.Session, error)
	Result(ctx context.Context, sessionID string) (*domain.ExecutionResult, error)
	Allocation(ctx context.Context, sessionID string) (*domain.WorkAllocation, error)
	Metrics(ctx context.Context, sessionID string) (*domain.ExecutionMetrics, error)
	ListActive(ctx context.Context, nodeID string) ([]string, error)
	Migrate(ctx context.Context, sessionID, from, to string) (domain.MigrationOutcome, error)
	DrainNode(ctx context.Context, from, to string) (*migration.DrainReport, error)
	Cleanup(ctx context.Context, inactiveFor time.Duration) (*migration.CleanupReport, error)
	Subscribe(sessionID string) (<-chan domain.Event, func())
	MetricsHandler() http.Handler
}

// Server exposes a Service as a JSON API.
type Server struct {
	Service Service
	Version string
	logger  *slog.Logger
}

// Option configures the handler.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.Version = strings.TrimSpace(v)
	}
}

// NewHandler creates a new HTTP handler for the coordinator.
func NewHandler(svc Service, opts ...Option) http.Handler {
	server := &Server{
		Service: svc,
		Version: "dev",
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(server)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/healthz", server.GetHealth)
	r.Get("/info", server.GetInfo)
	r.Handle("/metrics", svc.MetricsHandler())
	r.Get("/events", server.SubscribeEvents)

	r.Post("/strategies/{strategyID}/execute", server.Execute)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", server.ListSessions)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", server.GetSession)
			r.Get("/result", server.GetResult)
			r.Get("/allocation", server.GetAllocation)
			r.Get("/metrics", server.GetMetrics)
			r.Post("/cancel", server.Cancel)
			r.Post("/migrate", server.Migrate)
		})
	})

	r.Post("/nodes/{nodeID}/drain", server.Drain)
	r.Post("/cleanup", server.Cleanup)

	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error  string                  `json:"error"`
	Kind   string                  `json:"kind"`
	Result *domain.ExecutionResult `json:"result,omitempty"`
}

// StatusFor maps an error class to its HTTP status.
func StatusFor(err error) int {
	switch domain.Classify(err) {
	case "conflict", "illegal_transition", "migration_conflict", "cancelled":
		return http.StatusConflict
	case "store_unavailable":
		return http.StatusServiceUnavailable
	case "execution_failed", "validation_failed":
		return http.StatusUnprocessableEntity
	case "not_found":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, result *domain.ExecutionResult) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debug("Request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: domain.Classify(err), Result: result})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string, err error) {
	s.logger.Warn("Invalid request", "msg", msg, "err", err)
	s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Kind: "bad_request"})
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ExecuteRequest is the body of POST /strategies/{strategyID}/execute.
type ExecuteRequest struct {
	Context map[string]any `json:"context"`
}

// Execute handles POST /strategies/{strategyID}/execute.
func (s *Server) Execute(w http.ResponseWriter, r *http.Request) {
	strategyID := chi.URLParam(r, "strategyID")
	var body ExecuteRequest
	if err := decode(r, &body); err != nil {
		s.badRequest(w, "Invalid request body", err)
		return
	}

	result, err := s.Service.Execute(r.Context(), strategyID, body.Context)
	if err != nil {
		s.writeError(w, r, err, result)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// ListSessions handles GET /sessions?node=<id>.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	node := r.URL.Query().Get("node")
	ids, err := s.Service.ListActive(r.Context(), node)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

// GetSession handles GET /sessions/{sessionID}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.Service.Inspect(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

// GetResult handles GET /sessions/{sessionID}/result.
func (s *Server) GetResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.Service.Result(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// GetAllocation handles GET /sessions/{sessionID}/allocation.
func (s *Server) GetAllocation(w http.ResponseWriter, r *http.Request) {
	alloc, err := s.Service.Allocation(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, alloc)
}

// GetMetrics handles GET /sessions/{sessionID}/metrics.
func (s *Server) GetMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.Service.Metrics(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, metrics)
}

// CancelRequest is the body of POST /sessions/{sessionID}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /sessions/{sessionID}/cancel.
func (s *Server) Cancel(w http.ResponseWriter, r *http.Request) {
	var body CancelRequest
	if err := decode(r, &body); err != nil {
		s.badRequest(w, "Invalid request body", err)
		return
	}
	if body.Reason == "" {
		body.Reason = "cancelled via api"
	}
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.Service.Cancel(r.Context(), sessionID, body.Reason); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "phase": string(domain.PhaseCancelled)})
}

// MigrateRequest is the body of POST /sessions/{sessionID}/migrate.
type MigrateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Migrate handles POST /sessions/{sessionID}/migrate.
func (s *Server) Migrate(w http.ResponseWriter, r *http.Request) {
	var body MigrateRequest
	if err := decode(r, &body); err != nil {
		s.badRequest(w, "Invalid request body", err)
		return
	}
	if body.From == "" || body.To == "" {
		s.badRequest(w, "from and to are required", nil)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	outcome, err := s.Service.Migrate(r.Context(), sessionID, body.From, body.To)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "outcome": string(outcome)})
}

// DrainRequest is the body of POST /nodes/{nodeID}/drain.
type DrainRequest struct {
	To string `json:"to"`
}

// DrainResponse reports a node drain.
type DrainResponse struct {
	From     string                             `json:"from"`
	To       string                             `json:"to"`
	Outcomes map[string]domain.MigrationOutcome `json:"outcomes"`
	Errors   map[string]string                  `json:"errors,omitempty"`
}

// Drain handles POST /nodes/{nodeID}/drain.
func (s *Server) Drain(w http.ResponseWriter, r *http.Request) {
	var body DrainRequest
	if err := decode(r, &body); err != nil {
		s.badRequest(w, "Invalid request body", err)
		return
	}
	if body.To == "" {
		s.badRequest(w, "to is required", nil)
		return
	}
	report, err := s.Service.DrainNode(r.Context(), chi.URLParam(r, "nodeID"), body.To)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, DrainResponse{
		From:     report.From,
		To:       report.To,
		Outcomes: report.Outcomes,
		Errors:   errorStrings(report.Errors),
	})
}

// CleanupRequest is the body of POST /cleanup.
type CleanupRequest struct {
	InactiveFor string `json:"inactive_for"`
}

// CleanupResponse reports a cleanup pass.
type CleanupResponse struct {
	Cutoff   time.Time                    `json:"cutoff"`
	Outcomes map[string]migration.Outcome `json:"outcomes"`
	Errors   map[string]string            `json:"errors,omitempty"`
}

// Cleanup handles POST /cleanup.
func (s *Server) Cleanup(w http.ResponseWriter, r *http.Request) {
	var body CleanupRequest
	if err := decode(r, &body); err != nil {
		s.badRequest(w, "Invalid request body", err)
		return
	}
	inactiveFor, err := time.ParseDuration(body.InactiveFor)
	if err != nil || inactiveFor <= 0 {
		s.badRequest(w, fmt.Sprintf("inactive_for must be a positive duration, got %q", body.InactiveFor), err)
		return
	}
	report, err := s.Service.Cleanup(r.Context(), inactiveFor)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, CleanupResponse{
		Cutoff:   report.Cutoff,
		Outcomes: report.Outcomes,
		Errors:   errorStrings(report.Errors),
	})
}

func errorStrings(errs map[string]error) map[string]string {
	if len(errs) == 0 {
		return nil
	}
	out := make(map[string]string, len(errs))
	for id, err := range errs {
		out[id] = err.Error()
	}
	return out
}

// GetHealth handles the GET /healthz request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "stratum-http",
		"version": s.Version,
		"node_id": s.Service.NodeID(),
	})
}

// SubscribeEvents handles the GET /events request (SSE).
// ?session_id narrows the stream to one session; ?type=a,b keeps only the listed event types.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	var types map[domain.EventType]bool
	if raw := r.URL.Query().Get("type"); raw != "" {
		types = make(map[domain.EventType]bool)
		for _, t := range strings.Split(raw, ",") {
			types[domain.EventType(strings.TrimSpace(t))] = true
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Service.Subscribe(sessionID)
	defer cancel()

	s.logger.Info("SSE: Client subscribed", "session_id", sessionID, "types", sortedTypes(types))
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE Client Disconnected", "session_id", sessionID)
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if types != nil && !types[event.Type] {
				continue
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Warn("SSE: Event encode failed", "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

func sortedTypes(types map[domain.EventType]bool) []string {
	out := make([]string, 0, len(types))
	for t := range types {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}
