// Package tools holds the named, schema-validated operations a worker exposes.
package tools

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
)

// Handler executes a tool with arguments that have already been validated.
type Handler interface {
	Handle(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	return f(ctx, args)
}

// Descriptor binds a tool name to its input schema and handler.
type Descriptor struct {
	Name        string
	Description string
	Schema      *Schema
	Handler     Handler
}

// Registry holds the tools of a single worker.
// Use NewRegistry to create a Registry.
type Registry struct {
	logger hclog.Logger
	mu     sync.RWMutex
	tools  map[string]Descriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger hclog.Logger) (*Registry, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Registry{
		logger: logger.Named("tools"),
		tools:  make(map[string]Descriptor),
	}, nil
}

// Register adds a tool. The name must be unique within the registry.
func (r *Registry) Register(d Descriptor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if isNil(d.Handler) {
		return fmt.Errorf("tool '%s' handler cannot be nil", d.Name)
	}
	if d.Schema == nil {
		s, err := NewSchema(nil)
		if err != nil {
			return err
		}
		d.Schema = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[d.Name]; exists {
		return &DuplicateNameError{Name: d.Name}
	}
	r.tools[d.Name] = d

	r.logger.Debug("Registered tool", "tool", d.Name)

	return nil
}

// List returns a snapshot of every registered tool, sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := slices.Collect(maps.Values(r.tools))
	slices.SortFunc(descriptors, func(a, b Descriptor) int {
		return strings.Compare(a.Name, b.Name)
	})

	return descriptors
}

// Tools returns the wire representation of List.
func (r *Registry) Tools() []mcp.Tool {
	descriptors := r.List()

	out := make([]mcp.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, mcp.NewToolWithRawSchema(d.Name, d.Description, d.Schema.Raw()))
	}

	return out
}

// Invoke validates args against the named tool's schema and runs its handler.
// The handler is never called when validation fails.
// Errors are *NotFoundError, *ValidationError or *ExecutionError; a panicking handler yields an *ExecutionError.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	r.mu.RLock()
	d, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &NotFoundError{Name: name}
	}

	problems, err := d.Schema.Validate(args)
	if err != nil {
		return nil, &ValidationError{Name: name, Problems: []string{err.Error()}}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Name: name, Problems: problems}
	}

	return r.dispatch(ctx, d, args)
}

// dispatch runs the handler, converting panics and errors into ExecutionError.
func (r *Registry) dispatch(ctx context.Context, d Descriptor, args map[string]any) (result *mcp.CallToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Tool handler panicked", "tool", d.Name, "panic", rec, "stack", string(debug.Stack()))
			result = nil
			err = &ExecutionError{Name: d.Name, Err: fmt.Errorf("%v", rec), Panic: true}
		}
	}()

	result, err = d.Handler.Handle(ctx, args)
	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			return nil, err
		}
		return nil, &ExecutionError{Name: d.Name, Err: err}
	}
	if result == nil {
		result = &mcp.CallToolResult{}
	}

	return result, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
