// Package gateway exposes the orchestrator over the OpenAI-compatible HTTP
// surface: chat-completions (streaming and non-streaming), a models listing
// proxied from the upstream, and the ambient healthz/metrics endpoints.
// Grounded on the teacher's http_server.go mux-plus-graceful-shutdown idiom,
// narrowed from its webhook/websocket/web-UI surface to this system's three
// client-facing routes.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opengemini/gemproxy/internal/agent"
	"github.com/opengemini/gemproxy/internal/config"
	"github.com/opengemini/gemproxy/internal/credential"
	"github.com/opengemini/gemproxy/internal/upstream"
)

// Server wires the orchestrator and its supporting stores to an HTTP mux.
type Server struct {
	orchestrator *agent.Orchestrator
	client       *upstream.Client
	baseURL      string
	credentials  *credential.Store
	configs      *config.Store
	logger       *slog.Logger
	startTime    time.Time

	models modelsCache

	httpServer *http.Server
	listener   net.Listener
}

// New builds a Server. baseURL is the upstream's address, used for the
// /v1/models proxy call (the orchestrator keeps its own copy for generate
// calls; both point at the same upstream).
func New(orchestrator *agent.Orchestrator, client *upstream.Client, baseURL string, credentials *credential.Store, configs *config.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		orchestrator: orchestrator,
		client:       client,
		baseURL:      baseURL,
		credentials:  credentials,
		configs:      configs,
		logger:       logger.With("component", "gateway"),
		startTime:    time.Now(),
	}
}

// Mux builds the server's http.Handler. Exposed separately from Start so
// tests can drive it with httptest.NewServer without binding a real port.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/models", s.handleModels)
	return mux
}

// Start binds addr and serves in the background until ctx is cancelled or
// Stop is called. Returns once the listener is bound, not once the server
// has fully wound down.
func (s *Server) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", addr)
	return nil
}

// Stop gracefully shuts down the server, waiting up to the context deadline
// for in-flight requests (SSE streams included) to finish.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("gateway shutdown error", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := "ok"
	code := http.StatusOK
	if _, ok := s.credentials.Active(); !ok {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status": status,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
