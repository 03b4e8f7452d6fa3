package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/tillflow"
	httpAdapter "github.com/aretw0/tillflow/pkg/adapters/http"
	"github.com/aretw0/tillflow/pkg/adapters/mcp"
)

// MCPOptions configures the MCP server command.
type MCPOptions struct {
	FlowFile  string
	Transport string // stdio or sse
	Port      int
}

// ServeMCP exposes the conversations of a flow as MCP tools.
func ServeMCP(ctx context.Context, opts MCPOptions, logger *slog.Logger) error {
	// Screens are buffered for the get_snapshot tool; nothing streams them.
	screens := httpAdapter.NewScreenBuffer(nil, logger)

	engine, err := createEngine(opts.FlowFile, false, logger, nil, tillflow.WithPresenter(screens))
	if err != nil {
		return err
	}
	defer engine.Close(context.WithoutCancel(ctx))

	srv := mcp.NewServer(engine, screens, tillflow.Version, mcp.WithLogger(logger))

	switch opts.Transport {
	case "", "stdio":
		logger.Info("Starting tillflow MCP server (stdio)")
		return srv.ServeStdio()
	case "sse":
		logger.Info("Starting tillflow MCP server (SSE)", "port", opts.Port)
		return srv.ServeSSE(ctx, opts.Port)
	}
	return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", opts.Transport)
}
