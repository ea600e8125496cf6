// Package mcp implements the Model Context Protocol server for the triage
// service.
//
// The MCP server exposes the same ticket-intake capabilities as the HTTP API,
// allowing MCP-compatible agents to submit tickets and preview resolution
// estimates through the shared orchestrator.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/blueconnect/triage/internal/ticket"
)

// Processor is the orchestrator surface the MCP tools need.
type Processor interface {
	Process(ctx context.Context, description, locationID string) ticket.Result
	Preview(ctx context.Context, description, locationID string) ticket.Result
}

// Server wraps the MCP server with the triage service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	processor Processor
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(processor Processor, logger *slog.Logger, version string) *Server {
	s := &Server{
		processor: processor,
		logger:    logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"triage",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// submit_ticket — run the full cascade and persist the resulting ticket.
	s.mcpServer.AddTool(
		mcplib.NewTool("submit_ticket",
			mcplib.WithDescription("Submit a support ticket. Finds the best-matching prior ticket, derives a resolution-time estimate, and creates a new ticket record."),
			mcplib.WithString("description", mcplib.Description("Free-text issue description, at least 20 characters"), mcplib.Required()),
			mcplib.WithString("location_id", mcplib.Description("Identifier of the site reporting the issue"), mcplib.Required()),
		),
		s.handleSubmitTicket,
	)

	// estimate_resolution — cascade without persistence.
	s.mcpServer.AddTool(
		mcplib.NewTool("estimate_resolution",
			mcplib.WithDescription("Preview the resolution-time estimate for an issue without creating a ticket."),
			mcplib.WithString("description", mcplib.Description("Free-text issue description, at least 20 characters"), mcplib.Required()),
			mcplib.WithString("location_id", mcplib.Description("Identifier of the site reporting the issue"), mcplib.Required()),
		),
		s.handleEstimateResolution,
	)
}

func (s *Server) handleSubmitTicket(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	description := request.GetString("description", "")
	locationID := request.GetString("location_id", "")
	if description == "" || locationID == "" {
		return errorResult("description and location_id are required"), nil
	}

	res := s.processor.Process(ctx, description, locationID)
	return resultJSON(res)
}

func (s *Server) handleEstimateResolution(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	description := request.GetString("description", "")
	locationID := request.GetString("location_id", "")
	if description == "" || locationID == "" {
		return errorResult("description and location_id are required"), nil
	}

	res := s.processor.Preview(ctx, description, locationID)
	return resultJSON(res)
}

func resultJSON(res ticket.Result) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return mcplib.NewToolResultText(string(data)), nil
}

// errorResult creates a tool result carrying an error message.
func errorResult(msg string) *mcplib.CallToolResult {
	return mcplib.NewToolResultError(msg)
}
