// Package mcp exposes conversations as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/tillflow/internal/logging"
	"github.com/aretw0/tillflow/internal/presentation/graph"
	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const graphURI = "tillflow://graph"

// DeviceResponse is the structured result of the conversation tools.
type DeviceResponse struct {
	Snapshot *domain.Snapshot `json:"snapshot,omitempty" jsonschema_description:"The conversation after the call"`
	Screen   any              `json:"screen,omitempty" jsonschema_description:"The last screen presented on the device"`
	Error    string           `json:"error,omitempty" jsonschema_description:"The processing error, if any"`
	Kind     string           `json:"kind,omitempty" jsonschema_description:"The error kind (unhandled, rejected, hook, step, panic...)"`
}

// Engine is the part of the conversation engine the MCP server needs.
type Engine interface {
	Begin(ctx context.Context, deviceID string, seed map[string]any) error
	End(ctx context.Context, deviceID string) error
	DoAction(ctx context.Context, deviceID, name string, payload any) error
	Broadcast(ctx context.Context, sourceDeviceID string, event any) (int, error)
	Snapshot(ctx context.Context, deviceID string) (*domain.Snapshot, error)
	Devices() []string
	Definition() *domain.FlowDefinition
}

// ScreenSource returns the last screen shown on a device.
type ScreenSource interface {
	Last(deviceID string) (domain.Screen, bool)
}

// Server wraps the engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	screens   ScreenSource
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a new MCP Server instance. screens may be nil.
func NewServer(engine Engine, screens ScreenSource, version string, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		screens:   screens,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("tillflow-mcp", version),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE and stops when ctx is done.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("begin_conversation",
		mcp.WithDescription("Start the conversation of a device at the flow's initial state."),
		mcp.WithString("device_id", mcp.Required(), mcp.Description("The device id")),
		mcp.WithString("seed", mcp.Description("JSON object copied into the device scope (optional)")),
		mcp.WithOutputSchema[DeviceResponse](),
	), mcp.NewStructuredToolHandler(s.handleBegin))

	s.mcpServer.AddTool(mcp.NewTool("do_action",
		mcp.WithDescription("Submit an action to a device and wait until it has been processed."),
		mcp.WithString("device_id", mcp.Required(), mcp.Description("The device id")),
		mcp.WithString("action", mcp.Required(), mcp.Description("The action name")),
		mcp.WithString("payload", mcp.Description("JSON payload of the action (optional)")),
		mcp.WithOutputSchema[DeviceResponse](),
	), mcp.NewStructuredToolHandler(s.handleDoAction))

	s.mcpServer.AddTool(mcp.NewTool("get_snapshot",
		mcp.WithDescription("Describe the current state of a device's conversation."),
		mcp.WithString("device_id", mcp.Required(), mcp.Description("The device id")),
		mcp.WithOutputSchema[DeviceResponse](),
	), mcp.NewStructuredToolHandler(s.handleSnapshot))

	s.mcpServer.AddTool(mcp.NewTool("end_conversation",
		mcp.WithDescription("Tear down the conversation of a device."),
		mcp.WithString("device_id", mcp.Required(), mcp.Description("The device id")),
	), s.handleEnd)

	s.mcpServer.AddTool(mcp.NewTool("broadcast_event",
		mcp.WithDescription("Broadcast an event from a device to every live conversation."),
		mcp.WithString("device_id", mcp.Required(), mcp.Description("The source device id")),
		mcp.WithString("type", mcp.Required(), mcp.Description("The event type")),
		mcp.WithString("data", mcp.Description("JSON object with event data (optional)")),
	), s.handleBroadcast)

	s.mcpServer.AddTool(mcp.NewTool("list_devices",
		mcp.WithDescription("List the devices with a live conversation."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jsonBytes, _ := json.Marshal(s.engine.Devices())
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})

	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Get the flow graph as a Mermaid flowchart."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(graph.GenerateMermaid(s.engine.Definition(), nil)), nil
	})
}

func (s *Server) handleBegin(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (DeviceResponse, error) {
	deviceID, _ := args["device_id"].(string)
	var seed map[string]any
	if raw, ok := args["seed"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &seed); err != nil {
			return DeviceResponse{}, fmt.Errorf("invalid seed: %w", err)
		}
	}
	if err := s.engine.Begin(ctx, deviceID, seed); err != nil {
		return DeviceResponse{}, fmt.Errorf("begin failed: %w", err)
	}
	return s.describe(ctx, deviceID, nil)
}

func (s *Server) handleDoAction(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (DeviceResponse, error) {
	deviceID, _ := args["device_id"].(string)
	action, _ := args["action"].(string)
	if action == "" {
		return DeviceResponse{}, errors.New("action is required")
	}

	var payload any
	if raw, ok := args["payload"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			// Not JSON: pass the text through.
			payload = raw
		}
	}

	err := s.engine.DoAction(ctx, deviceID, action, payload)
	if errors.Is(err, domain.ErrConversationNotFound) || errors.Is(err, domain.ErrConversationClosed) {
		return DeviceResponse{}, err
	}
	if err != nil {
		s.logger.Debug("MCP do_action failed", "device_id", deviceID, "action", action, "err", err)
	}
	return s.describe(ctx, deviceID, err)
}

func (s *Server) handleSnapshot(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (DeviceResponse, error) {
	deviceID, _ := args["device_id"].(string)
	return s.describe(ctx, deviceID, nil)
}

func (s *Server) handleEnd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deviceID := request.GetString("device_id", "")
	if err := s.engine.End(ctx, deviceID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("end failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("conversation of %s ended", deviceID)), nil
}

func (s *Server) handleBroadcast(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ev := domain.ExternalEvent{Type: request.GetString("type", "")}
	if raw := request.GetString("data", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &ev.Data); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid data: %v", err)), nil
		}
	}
	handled, err := s.engine.Broadcast(ctx, request.GetString("device_id", ""), ev)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("handled by %d conversations, errors: %v", handled, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("handled by %d conversations", handled)), nil
}

func (s *Server) describe(ctx context.Context, deviceID string, actionErr error) (DeviceResponse, error) {
	snap, err := s.engine.Snapshot(ctx, deviceID)
	if err != nil {
		return DeviceResponse{}, fmt.Errorf("snapshot failed: %w", err)
	}
	resp := DeviceResponse{Snapshot: snap}
	if s.screens != nil {
		if screen, ok := s.screens.Last(deviceID); ok {
			if rs, isRecovery := screen.(domain.RecoveryScreen); isRecovery {
				screen = rs.Message
			}
			resp.Screen = screen
		}
	}
	if actionErr != nil {
		resp.Error = actionErr.Error()
		resp.Kind = domain.ErrorKind(actionErr)
	}
	return resp, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(graphURI, "Flow graph (Mermaid)",
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      graphURI,
				MIMEType: "text/plain",
				Text:     graph.GenerateMermaid(s.engine.Definition(), nil),
			},
		}, nil
	})
}
