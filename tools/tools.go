package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrToolNotFound is returned when calling an unregistered tool
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidArguments is returned when a tool rejects its arguments
	ErrInvalidArguments = errors.New("invalid arguments")
)

// HandlerFunc runs a tool with decoded JSON arguments and returns its text result
type HandlerFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool describes a callable tool
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`

	Handler HandlerFunc `json:"-"`
}

// Registry holds the tools exposed by the server
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// DefaultRegistry returns a registry holding the built-in tools
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry()
	// say_hello has a fixed, valid definition
	_ = r.Register(SayHello(logger))
	return r
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %q has no handler", tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// List returns the registered tools sorted by name
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs the named tool
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return tool.Handler(ctx, args)
}

// SayHello returns the say_hello tool
func SayHello(logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return Tool{
		Name:        "say_hello",
		Description: "Return a personalized greeting.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "The name of the person to greet.",
				},
			},
			"required": []string{"name"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name, err := stringArg(args, "name")
			if err != nil {
				return "", err
			}
			logger.DebugContext(ctx, "say_hello called", "name_length", len(name))
			return Greeting(name), nil
		},
	}
}

// Greeting formats the say_hello result
func Greeting(name string) string {
	return fmt.Sprintf("Hello, %s! Welcome to the MCP server with OAuth 2.0 authentication.", name)
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: missing required argument %q", ErrInvalidArguments, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %q must be a string", ErrInvalidArguments, key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: argument %q must not be empty", ErrInvalidArguments, key)
	}
	return s, nil
}
