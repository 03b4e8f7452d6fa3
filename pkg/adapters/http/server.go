// Package http exposes conversations over a JSON REST API with per-device
// screen streams (SSE).
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aretw0/tillflow/internal/logging"
	"github.com/aretw0/tillflow/internal/presentation/graph"
	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// Engine is the part of the conversation engine the API needs.
type Engine interface {
	Begin(ctx context.Context, deviceID string, seed map[string]any) error
	End(ctx context.Context, deviceID string) error
	DoAction(ctx context.Context, deviceID, name string, payload any) error
	Broadcast(ctx context.Context, sourceDeviceID string, event any) (int, error)
	Snapshot(ctx context.Context, deviceID string) (*domain.Snapshot, error)
	Devices() []string
	Definition() *domain.FlowDefinition
}

// Server serves the REST API.
type Server struct {
	Engine  Engine
	Screens *ScreenBuffer
	Streams *StreamManager
	Version string

	logger *slog.Logger
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

// WithVersion sets the version reported by GET /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.Version = v
	}
}

// NewServer creates a server. screens must be the presenter the engine was built with.
func NewServer(engine Engine, screens *ScreenBuffer, opts ...Option) *Server {
	s := &Server{
		Engine:  engine,
		Screens: screens,
		Version: "dev",
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if screens != nil {
		s.Streams = screens.streams
	}
	return s
}

// Handler returns the routes mounted on a chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/graph", s.GetGraph)
	r.Route("/devices", func(r chi.Router) {
		r.Get("/", s.ListDevices)
		r.Route("/{deviceID}", func(r chi.Router) {
			r.Post("/", s.BeginConversation)
			r.Get("/", s.GetDevice)
			r.Delete("/", s.EndConversation)
			r.Post("/actions", s.DoAction)
			r.Post("/events", s.PostEvent)
			r.Get("/stream", s.Stream)
		})
	})
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BeginRequest is the body of POST /devices/{deviceID}.
type BeginRequest struct {
	Seed map[string]any `json:"seed,omitempty"`
}

// ActionRequest is the body of POST /devices/{deviceID}/actions.
type ActionRequest struct {
	Action  string `json:"action"`
	Payload any    `json:"payload,omitempty"`
}

// DeviceResponse describes a conversation after a request.
type DeviceResponse struct {
	Snapshot *domain.Snapshot `json:"snapshot,omitempty"`
	Screen   any              `json:"screen,omitempty"`
	Error    *ErrorBody       `json:"error,omitempty"`
}

// ErrorBody is the JSON form of an error.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// EventResponse is the body returned by POST /devices/{deviceID}/events.
type EventResponse struct {
	Handled int        `json:"handled"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// BeginConversation handles POST /devices/{deviceID}.
func (s *Server) BeginConversation(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	var body BeginRequest
	if !s.decode(w, r, &body, true) {
		return
	}
	if err := s.Engine.Begin(r.Context(), deviceID, body.Seed); err != nil {
		s.fail(w, r, deviceID, err)
		return
	}
	s.respond(w, r, http.StatusCreated, deviceID, nil)
}

// GetDevice handles GET /devices/{deviceID}.
func (s *Server) GetDevice(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, chi.URLParam(r, "deviceID"), nil)
}

// EndConversation handles DELETE /devices/{deviceID}.
func (s *Server) EndConversation(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if err := s.Engine.End(r.Context(), deviceID); err != nil {
		s.fail(w, r, deviceID, err)
		return
	}
	if s.Screens != nil {
		s.Screens.Forget(deviceID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// DoAction handles POST /devices/{deviceID}/actions. Processing errors are part
// of the response together with the screen presented for them.
func (s *Server) DoAction(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	var body ActionRequest
	if !s.decode(w, r, &body, false) {
		return
	}
	if body.Action == "" {
		http.Error(w, "action is required", http.StatusBadRequest)
		return
	}

	err := s.Engine.DoAction(r.Context(), deviceID, body.Action, body.Payload)
	if err != nil && isTransportError(err) {
		s.fail(w, r, deviceID, err)
		return
	}
	s.respond(w, r, statusFor(err), deviceID, err)
}

// PostEvent handles POST /devices/{deviceID}/events: the device broadcasts an
// event to every live conversation.
func (s *Server) PostEvent(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	var body domain.ExternalEvent
	if !s.decode(w, r, &body, false) {
		return
	}
	if body.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	handled, err := s.Engine.Broadcast(r.Context(), deviceID, body)
	resp := EventResponse{Handled: handled}
	status := http.StatusOK
	if err != nil {
		resp.Error = errorBody(err)
		status = http.StatusMultiStatus
	}
	s.writeJSON(w, status, resp)
}

// ListDevices handles GET /devices.
func (s *Server) ListDevices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"devices": s.Engine.Devices()})
}

// GetGraph handles GET /graph and returns the flow as Mermaid text.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	var overlay *graph.GraphOverlay
	if deviceID := r.URL.Query().Get("device"); deviceID != "" {
		snap, err := s.Engine.Snapshot(r.Context(), deviceID)
		if err != nil {
			s.fail(w, r, deviceID, err)
			return
		}
		overlay = graph.OverlayFromSnapshot(snap)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, graph.GenerateMermaid(s.Engine.Definition(), overlay))
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "tillflow-http",
		"version": s.Version,
		"flow":    s.Engine.Definition().Name,
	})
}

// Stream handles GET /devices/{deviceID}/stream (SSE of presented screens).
func (s *Server) Stream(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	flusher, ok := w.(http.Flusher)
	if !ok || s.Streams == nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(deviceID)
	defer cancel()
	s.logger.Info("SSE: Subscribing to screens", "device_id", deviceID)

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE Client Disconnected", "device_id", deviceID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: screen\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// -- Helpers --

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	if r.Body == nil || r.ContentLength == 0 {
		if optional {
			return true
		}
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("Invalid request body", "path", r.URL.Path, "err", err)
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, deviceID string, actionErr error) {
	snap, err := s.Engine.Snapshot(r.Context(), deviceID)
	if err != nil {
		s.fail(w, r, deviceID, err)
		return
	}
	resp := DeviceResponse{Snapshot: snap}
	if s.Screens != nil {
		if screen, ok := s.Screens.Last(deviceID); ok {
			resp.Screen = screenView(screen)
		}
	}
	if actionErr != nil {
		resp.Error = errorBody(actionErr)
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, deviceID string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "device_id", deviceID, "err", err)
	}
	s.writeJSON(w, status, DeviceResponse{Error: errorBody(err)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

func errorBody(err error) *ErrorBody {
	return &ErrorBody{Kind: domain.ErrorKind(err), Message: err.Error()}
}

// isTransportError reports errors about the request itself rather than about
// processing an action inside the conversation.
func isTransportError(err error) bool {
	return errors.Is(err, domain.ErrConversationNotFound) ||
		errors.Is(err, domain.ErrConversationClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func statusFor(err error) int {
	var (
		unhandled *domain.UnhandledActionError
		rejected  *domain.ActionRejectedError
		hookErr   *domain.LifecycleHookError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrConversationNotFound), errors.Is(err, domain.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConversationExists), errors.As(err, &rejected):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConversationClosed):
		return http.StatusGone
	case errors.As(err, &unhandled), errors.As(err, &hookErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
