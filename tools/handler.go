package tools

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/mcp-authserver/instrumentation"
)

// maxCallBodyBytes bounds a tools/call request body
const maxCallBodyBytes = 1 << 20

// CallRequest is the body of POST /mcp/v1/tools/call
type CallRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Content is one item of a tool result
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResponse is the body of a successful tool call
type CallResponse struct {
	Content []Content `json:"content"`
}

// ListResponse is the body of GET /mcp/v1/tools/list
type ListResponse struct {
	Tools []Tool `json:"tools"`
}

// Handler serves the tool registry over HTTP
type Handler struct {
	registry        *Registry
	logger          *slog.Logger
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// NewHandler creates a tool handler
func NewHandler(registry *Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		logger:   logger,
		tracer:   noop.NewTracerProvider().Tracer(""),
	}
}

// SetInstrumentation enables tool call metrics and spans
func (h *Handler) SetInstrumentation(inst *instrumentation.Instrumentation) {
	h.instrumentation = inst
	if inst != nil {
		h.tracer = inst.Tracer("tools")
	}
}

// ServeList handles GET /mcp/v1/tools/list
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Tools: h.registry.List()})
}

// ServeCall handles POST /mcp/v1/tools/call
func (h *Handler) ServeCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CallRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Tool name is required")
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "mcp.tool.call",
		trace.WithAttributes(attribute.String(instrumentation.AttrToolName, req.Name)))
	defer span.End()

	text, err := h.registry.Call(ctx, req.Name, req.Arguments)
	h.recordToolCall(r, req.Name, err == nil)
	if err != nil {
		instrumentation.RecordError(span, err)
		switch {
		case errors.Is(err, ErrToolNotFound):
			writeError(w, http.StatusNotFound, "Tool '"+req.Name+"' not found")
		case errors.Is(err, ErrInvalidArguments):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "Tool call failed", "tool", req.Name, "error", err)
			writeError(w, http.StatusInternalServerError, "Tool call failed")
		}
		return
	}

	instrumentation.SetSpanSuccess(span)
	writeJSON(w, http.StatusOK, CallResponse{
		Content: []Content{{Type: "text", Text: text}},
	})
}

func (h *Handler) recordToolCall(r *http.Request, tool string, success bool) {
	if h.instrumentation == nil {
		return
	}
	h.instrumentation.Metrics().RecordToolCall(r.Context(), tool, success)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
