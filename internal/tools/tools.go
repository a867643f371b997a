// Package tools provides the function-calling registry: tool definitions
// advertised to the completion service and dispatch of the calls it
// returns.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zjy1412/wechatyferry-bot/internal/llm"
)

// Handler executes a tool call. args is the raw JSON arguments object
// from the model; the returned string is fed back to the model as the
// tool result.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool describes a callable tool: its schema (sent to the model) and its
// handler (run locally).
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema for the arguments object
	Handler     Handler
}

// Registry holds the tool set advertised on every routing call.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	order  []string // registration order, for a stable schema
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool. Re-registering a name replaces the previous
// definition.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// List returns tool definitions in the OpenAI function-calling wire
// format, in registration order.
func (r *Registry) List() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return defs
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// SelectCall applies the first-call-only dispatch policy: when a model
// response carries multiple tool calls, only the first is dispatched and
// the rest are discarded. Returns false when there are no calls.
func SelectCall(calls []llm.ToolCall) (llm.ToolCall, bool) {
	if len(calls) == 0 {
		return llm.ToolCall{}, false
	}
	return calls[0], true
}

// Execute dispatches a single tool call by name. A call naming a tool
// that was never registered yields a "no handler" result rather than an
// error, so the turn can still finish with the model seeing what
// happened. Handler panics are converted to errors, never propagated.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (result string, err error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("no handler for tool", "tool", name)
		out, _ := json.Marshal(map[string]string{"error": "no handler for tool " + name})
		return string(out), nil
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool handler panicked", "tool", name, "panic", p)
			result, err = "", fmt.Errorf("tools: %s panicked: %v", name, p)
		}
	}()

	r.logger.Debug("dispatching tool", "tool", name, "args", string(args))
	return t.Handler(ctx, args)
}
