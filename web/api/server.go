// Package api serves the swarm's queue, agents and health over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/judgment"
	"github.com/hochfrequenz/swarm-orchestrator/internal/observer"
	"github.com/hochfrequenz/swarm-orchestrator/internal/scheduler"
)

// Queue explains the current work-item snapshot
type Queue interface {
	Explain(ctx context.Context) ([]scheduler.Decision, error)
}

// AgentLister lists stored agents
type AgentLister interface {
	ListAgents(ctx context.Context) ([]*domain.Agent, error)
}

// Evaluator judges the swarm without enforcing
type Evaluator interface {
	Evaluate(ctx context.Context) (judgment.Result, error)
}

// Server is the HTTP API server
type Server struct {
	queue    Queue
	agents   AgentLister
	eval     Evaluator
	observer *observer.Observer
	addr     string
	mux      *http.ServeMux
	sseHub   *SSEHub
	logger   *slog.Logger
}

// NewServer creates a new API server
func NewServer(queue Queue, agents AgentLister, eval Evaluator, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		queue:  queue,
		agents: agents,
		eval:   eval,
		addr:   addr,
		mux:    http.NewServeMux(),
		sseHub: NewSSEHub(),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// SetObserver adds run metrics to /api/status
func (s *Server) SetObserver(o *observer.Observer) { s.observer = o }

// method-qualified patterns make the mux answer 405 for anything but GET
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/status", s.statusHandler())
	s.mux.HandleFunc("GET /api/queue", s.queueHandler())
	s.mux.HandleFunc("GET /api/agents", s.listAgentsHandler())
	s.mux.HandleFunc("GET /api/report", s.reportHandler())
	s.mux.HandleFunc("GET /api/events", s.sseHandler())
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.sseHub.Run(hubCtx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.InfoContext(ctx, "api listening", "addr", s.addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	stopHub()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

// Publish lets the server act as a batch event sink
func (s *Server) Publish(eventType string, data any) {
	s.Broadcast(SSEEvent{Type: eventType, Data: data})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
