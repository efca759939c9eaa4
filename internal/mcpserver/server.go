// Package mcpserver implements an MCP (Model Context Protocol) server that
// exposes the migration toolkit as typed tools over stdio JSON-RPC: dump
// tokenizing, PHP BLOB decoding and read access to the run ledger.
package mcpserver

import (
	"context"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/joestump/menuca-migrate/internal/blob"
	"github.com/joestump/menuca-migrate/internal/config"
	"github.com/joestump/menuca-migrate/internal/db"
)

// RunStore is the read side of the ledger.
type RunStore interface {
	GetRun(id string) (*db.Run, error)
	ListRuns(kind string, limit, offset int) ([]db.Run, error)
	ListIssues(runID string, limit int) ([]db.Issue, error)
}

// Server holds the MCP server state.
type Server struct {
	runs     RunStore
	decoders *blob.Registry
}

// NewServer creates a server. A nil store leaves the ledger tools out.
func NewServer(runs RunStore, decoders *blob.Registry) *Server {
	if decoders == nil {
		decoders = blob.NewRegistry()
	}
	return &Server{runs: runs, decoders: decoders}
}

// Tools returns the tools this server registers.
func (s *Server) Tools() []server.ServerTool {
	tools := []server.ServerTool{
		{Tool: parseValuesTool(), Handler: s.handleParseValues},
		{Tool: unserializeTool(s.decoders.Names()), Handler: s.handleUnserialize},
	}
	if s.runs != nil {
		tools = append(tools,
			server.ServerTool{Tool: listRunsTool(), Handler: s.handleListRuns},
			server.ServerTool{Tool: runIssuesTool(), Handler: s.handleRunIssues},
		)
	}
	return tools
}

// Run starts the MCP stdio server. It blocks until the context is cancelled
// or stdin is closed.
func Run(ctx context.Context, runs RunStore) error {
	s := NewServer(runs, nil)

	mcpServer := server.NewMCPServer(
		"menuca-migrate",
		config.Version,
		server.WithToolCapabilities(true),
	)
	mcpServer.AddTools(s.Tools()...)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "[mcp] ", log.LstdFlags))

	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}
