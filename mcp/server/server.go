// Package server exposes tools over MCP, some of which are paywalled. A
// paywalled tool answers a call without payment with an error result carrying
// the challenge; the client pays on chain and repeats the call with the
// authorization in _meta.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/mcp"
)

// Server wraps an MCP server and adds paywalled tools.
type Server struct {
	mcpServer *mcpserver.MCPServer
	config    *Config
	logger    *slog.Logger
}

// NewServer creates a new MCP server.
func NewServer(name, version string, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.PaymentTools == nil {
		config.PaymentTools = make(map[string]paywall.PaymentRequirement)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		mcpServer: mcpserver.NewMCPServer(name, version, mcpserver.WithToolCapabilities(false)),
		config:    config,
		logger:    logger,
	}
}

// AddTool adds a free tool.
func (s *Server) AddTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
}

// AddPayableTool adds a tool that runs only once paid for. The requirement's
// resource is always mcp://tools/<name>.
func (s *Server) AddPayableTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc, rc paywall.RequirementConfig) error {
	if s.config.Redeemer == nil {
		return errors.New("mcp: redeemer is required for payable tools")
	}
	if s.config.Sessions == nil {
		return errors.New("mcp: session issuer is required for payable tools")
	}

	rc.Resource = mcp.ToolResource(tool.Name)
	if rc.Description == "" {
		rc.Description = tool.Description
	}
	req, err := paywall.BuildPaymentRequirement(rc)
	if err != nil {
		return fmt.Errorf("invalid requirement for tool %s: %w", tool.Name, err)
	}

	s.config.PaymentTools[tool.Name] = req
	s.mcpServer.AddTool(tool, s.paid(req, handler))
	return nil
}

// Handler returns the streamable HTTP handler.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer)
}

// Start serves the MCP endpoint on addr.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting MCP server",
		"addr", addr,
		"payable_tools", len(s.config.PaymentTools))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
