// Package mcpserver exposes the loop and the safety validator as MCP tools
// over the stdio transport, so other agents can start gated runs and probe
// commands or paths against the safety rules.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/qloopdev/qloop/internal/loop"
	"github.com/qloopdev/qloop/internal/runstore"
	"github.com/qloopdev/qloop/internal/safety"
)

// Version is reported in the MCP handshake.
const Version = "0.1.0"

// RunFunc starts one full loop run for a task and returns its result.
type RunFunc func(ctx context.Context, task string, maxIterations int) (loop.LoopResult, error)

// Server wires the qloop tools onto an MCP stdio server.
type Server struct {
	mcp       *mcp.Server
	validator *safety.Validator
	store     *runstore.Store
	runFn     RunFunc
	logger    zerolog.Logger
}

// NewServer builds the server and registers all tools. The store is optional;
// without it the runs_list tool is not registered.
func NewServer(validator *safety.Validator, runFn RunFunc, store *runstore.Store, logger zerolog.Logger) (*Server, error) {
	if validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if runFn == nil {
		return nil, fmt.Errorf("run function is required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "qloop",
			Version: Version,
		}, nil),
		validator: validator,
		store:     store,
		runFn:     runFn,
		logger:    logger.With().Str("component", "mcp").Logger(),
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP requests on stdio until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().Msg("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
