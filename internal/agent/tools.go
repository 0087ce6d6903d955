// Package agent implements the worker runtime shared by the specialists:
// the tool registry the model calls into, the prompt seeds and the four
// workers themselves.
package agent

import (
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/alexlabs/alex/internal/domain"
	"github.com/alexlabs/alex/internal/observability"
)

// Handler executes one validated tool call and returns a short textual
// result for the tool-response message.
type Handler func(ctx domain.Context, args map[string]any) (string, error)

// Tool pairs a declaration with its handler.
type Tool struct {
	Decl    domain.ToolDecl
	Handler Handler
}

// Registry is one worker's tool set. It validates arguments before
// dispatch, permits at most one in-flight invocation per tool name and logs
// every invocation.
type Registry struct {
	worker string
	tools  map[string]Tool
	order  []string

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewRegistry creates an empty registry for the named worker.
func NewRegistry(worker string) *Registry {
	return &Registry{
		worker:   worker,
		tools:    map[string]Tool{},
		inFlight: map[string]bool{},
	}
}

// Register adds a tool. Duplicate names panic: registries are assembled at
// startup from static declarations.
func (r *Registry) Register(t Tool) {
	if _, dup := r.tools[t.Decl.Name]; dup {
		panic(fmt.Sprintf("agent: duplicate tool %q", t.Decl.Name))
	}
	r.tools[t.Decl.Name] = t
	r.order = append(r.order, t.Decl.Name)
}

// Decls returns the declarations in registration order.
func (r *Registry) Decls() []domain.ToolDecl {
	out := make([]domain.ToolDecl, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Decl)
	}
	return out
}

// Invoker adapts the registry to the model client's dispatch signature.
func (r *Registry) Invoker() domain.ToolInvoker {
	return func(ctx domain.Context, name string, args map[string]any) (string, error) {
		return r.Invoke(ctx, name, args)
	}
}

// Invoke validates and runs one tool call.
func (r *Registry) Invoke(ctx domain.Context, name string, args map[string]any) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown tool %q", domain.ErrToolFailed, name)
	}
	if err := validateArgs(tool.Decl, args); err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrValidation, name, err)
	}

	r.mu.Lock()
	if r.inFlight[name] {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: tool %q already in flight", domain.ErrToolFailed, name)
	}
	r.inFlight[name] = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inFlight[name] = false
		r.mu.Unlock()
	}()

	start := time.Now()
	result, err := tool.Handler(ctx, args)
	dur := time.Since(start)

	lg := observability.LoggerFromContext(ctx)
	if err != nil {
		lg.Warn("tool invocation failed",
			slog.String("worker", r.worker),
			slog.String("tool", name),
			slog.Duration("duration", dur),
			slog.Any("error", err))
	} else {
		lg.Info("tool invoked",
			slog.String("worker", r.worker),
			slog.String("tool", name),
			slog.Duration("duration", dur),
			slog.Int("result_bytes", len(result)))
	}
	observability.EmitterFromContext(ctx).ToolInvoked(ctx, r.worker, name, dur, len(result), err)
	return result, err
}

// validateArgs checks required parameters, primitive types, enums and list
// element types against the declaration. Unknown arguments are rejected.
func validateArgs(decl domain.ToolDecl, args map[string]any) error {
	byName := make(map[string]domain.ToolParam, len(decl.Params))
	for _, p := range decl.Params {
		byName[p.Name] = p
		if _, present := args[p.Name]; p.Required && !present {
			return fmt.Errorf("missing required parameter %q", p.Name)
		}
	}
	for name, val := range args {
		p, ok := byName[name]
		if !ok {
			return fmt.Errorf("unknown parameter %q", name)
		}
		if err := checkValue(p, val); err != nil {
			return fmt.Errorf("parameter %q: %v", name, err)
		}
	}
	return nil
}

func checkValue(p domain.ToolParam, val any) error {
	switch p.Type {
	case domain.ParamString:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", val)
		}
		if len(p.Enum) > 0 && !containsString(p.Enum, s) {
			return fmt.Errorf("%q not in enum %v", s, p.Enum)
		}
	case domain.ParamNumber:
		switch val.(type) {
		case float64, int:
		default:
			return fmt.Errorf("want number, got %T", val)
		}
	case domain.ParamBoolean:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("want boolean, got %T", val)
		}
	case domain.ParamArray:
		items, ok := val.([]any)
		if !ok {
			return fmt.Errorf("want array, got %T", val)
		}
		elem := domain.ToolParam{Name: p.Name, Type: p.Elem, Enum: p.Enum}
		for i, item := range items {
			if err := checkValue(elem, item); err != nil {
				return fmt.Errorf("element %d: %v", i, err)
			}
		}
	default:
		return fmt.Errorf("unsupported parameter type %q", p.Type)
	}
	return nil
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// argString extracts a string argument after validation.
func argString(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// argNumber extracts a numeric argument after validation.
func argNumber(args map[string]any, name string) float64 {
	switch v := args[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// argStrings extracts a []string argument after validation.
func argStrings(args map[string]any, name string) []string {
	items, _ := args[name].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// argNumbers extracts a []float64 argument after validation.
func argNumbers(args map[string]any, name string) []float64 {
	items, _ := args[name].([]any)
	out := make([]float64, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case float64:
			out = append(out, v)
		case int:
			out = append(out, float64(v))
		}
	}
	return out
}
