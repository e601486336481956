// Package tools maps MCP tool and resource names to their handlers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler executes a tool call. An error return is a tool-level failure,
// not a protocol error.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool describes one catalogue entry and its bound handler.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`

	Handler Handler `json:"-"`
}

// Reader produces a resource's current content.
type Reader func(ctx context.Context) (string, error)

// Resource describes one readable URI.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`

	Reader Reader `json:"-"`
}

// Registry stores the tool and resource catalogues. Registration happens
// at startup; lookups afterwards are read-only.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	toolOrder []string
	resources map[string]Resource
	resOrder  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		resources: make(map[string]Resource),
	}
}

// Register adds a tool to the catalogue.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("handler is required for %s", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool already registered for %s", t.Name)
	}
	r.tools[t.Name] = t
	r.toolOrder = append(r.toolOrder, t.Name)
	return nil
}

// MustRegister adds a tool or panics; used during startup wiring.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// RegisterResource adds a readable resource to the catalogue.
func (r *Registry) RegisterResource(res Resource) error {
	if res.URI == "" {
		return fmt.Errorf("resource uri is required")
	}
	if res.Reader == nil {
		return fmt.Errorf("reader is required for %s", res.URI)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[res.URI]; exists {
		return fmt.Errorf("resource already registered for %s", res.URI)
	}
	r.resources[res.URI] = res
	r.resOrder = append(r.resOrder, res.URI)
	return nil
}

// MustRegisterResource adds a resource or panics.
func (r *Registry) MustRegisterResource(res Resource) {
	if err := r.RegisterResource(res); err != nil {
		panic(err)
	}
}

// Tools returns the catalogue in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		out = append(out, r.tools[name])
	}
	return out
}

// Lookup returns the named tool, if registered.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Resources returns the resource catalogue in registration order.
func (r *Registry) Resources() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Resource, 0, len(r.resOrder))
	for _, uri := range r.resOrder {
		out = append(out, r.resources[uri])
	}
	return out
}

// Read returns the content of the resource at uri.
func (r *Registry) Read(ctx context.Context, uri string) (Resource, string, error) {
	r.mu.RLock()
	res, ok := r.resources[uri]
	r.mu.RUnlock()
	if !ok {
		return Resource{}, "", fmt.Errorf("resource not found: %s", uri)
	}
	content, err := res.Reader(ctx)
	if err != nil {
		return Resource{}, "", err
	}
	return res, content, nil
}

// Has reports whether uri names a registered resource.
func (r *Registry) Has(uri string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resources[uri]
	return ok
}
