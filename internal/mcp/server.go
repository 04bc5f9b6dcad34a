// Package mcp exposes the memory engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lazypower/orgmem/internal/engine"
)

const ServerName = "orgmem"

// Config wires the MCP server to an engine.
type Config struct {
	Engine  *engine.Engine
	Logger  *slog.Logger
	Version string

	// DefaultTenant and DefaultTeam apply when a tool call omits them.
	DefaultTenant uuid.UUID
	DefaultTeam   string
}

// Server wraps the MCP server with the memory tools registered.
type Server struct {
	mcpServer *mcp.Server
	handler   *Handler
	logger    *slog.Logger
}

// NewServer creates the MCP server and registers every tool.
func NewServer(c Config) (*Server, error) {
	if c.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Version == "" {
		c.Version = "dev"
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: c.Version,
		},
		nil,
	)

	s := &Server{
		mcpServer: mcpServer,
		handler: &Handler{
			Engine:        c.Engine,
			Logger:        c.Logger,
			DefaultTenant: c.DefaultTenant,
			DefaultTeam:   c.DefaultTeam,
		},
		logger: c.Logger,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, StoreTool(), s.handler.HandleStore)
	mcp.AddTool(s.mcpServer, GetTool(), s.handler.HandleGet)
	mcp.AddTool(s.mcpServer, QueryTool(), s.handler.HandleQuery)
	mcp.AddTool(s.mcpServer, SimilarTool(), s.handler.HandleSimilar)
	mcp.AddTool(s.mcpServer, RelateTool(), s.handler.HandleRelate)
	mcp.AddTool(s.mcpServer, TraverseTool(), s.handler.HandleTraverse)
	mcp.AddTool(s.mcpServer, StatsTool(), s.handler.HandleStats)
}

// HTTPHandler returns a streamable HTTP handler for the MCP server.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server {
			return s.mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
			Logger:    s.logger,
		},
	)
}

// Run serves the MCP server over stdio until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
