// Package server implements the HTTP API for the triage service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/blueconnect/triage/internal/ticket"
)

// Processor is the orchestrator surface the HTTP handlers need.
type Processor interface {
	Process(ctx context.Context, description, locationID string) ticket.Result
	Preview(ctx context.Context, description, locationID string) ticket.Result
}

// ComponentCheck reports the health of one backing component.
// Optional components degrade the response body, not the status code.
type ComponentCheck struct {
	Name     string
	Required bool
	Check    func(ctx context.Context) error
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	// Required dependencies.
	Processor Processor
	Logger    *slog.Logger

	// Optional dependencies (nil = disabled).
	MCPServer *mcpserver.MCPServer
	Checks    []ComponentCheck

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// Server is the triage HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := &handlers{
		processor:           cfg.Processor,
		checks:              cfg.Checks,
		logger:              cfg.Logger,
		version:             cfg.Version,
		maxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tickets", h.handleSubmitTicket)
	mux.HandleFunc("POST /v1/tickets/estimate", h.handleEstimateTicket)
	mux.HandleFunc("GET /health", h.handleHealth)

	// MCP transport shares the service layer with the REST routes.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
