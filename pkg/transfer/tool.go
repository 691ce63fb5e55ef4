package transfer

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Result statuses. Every tool call resolves to one of these; a tool never
// leaves its caller without a status.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the structured outcome of a tool execution.
type Result struct {
	Status string                 `json:"status"`
	Data   map[string]interface{} `json:"data,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Success builds a success result carrying data.
func Success(data map[string]interface{}) Result {
	return Result{Status: StatusSuccess, Data: data}
}

// Errorf builds an error result with a formatted message.
func Errorf(format string, args ...interface{}) Result {
	return Result{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

// Tool is a named capability on the inter-agent bus. Execute returns an error
// only for transport-level failures; application failures come back as a
// Result with StatusError.
type Tool interface {
	Name() string
	Execute(ctx context.Context, payload map[string]interface{}) (Result, error)
}

// Registry holds the fixed, named set of tools an agent can invoke. Tools are
// registered once at startup and looked up by name, never by position.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its name. Registering a duplicate name is a
// wiring mistake and fails loudly.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute invokes the named tool, converting a missing tool into an error
// result so callers always get a status back.
func (r *Registry) Execute(ctx context.Context, name string, payload map[string]interface{}) (Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return Errorf("no tool registered under %q", name), nil
	}
	return t.Execute(ctx, payload)
}

// Names lists the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolFunc adapts a function to the Tool interface for in-process tools.
type ToolFunc struct {
	ToolName string
	Fn       func(ctx context.Context, payload map[string]interface{}) (Result, error)
}

func (t ToolFunc) Name() string { return t.ToolName }

func (t ToolFunc) Execute(ctx context.Context, payload map[string]interface{}) (Result, error) {
	return t.Fn(ctx, payload)
}
