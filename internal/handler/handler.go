// Package handler defines the node execution contract and the registry that
// resolves a node to a handler instance.
package handler

import (
	"sync"

	"github.com/flowgraph/attractor/internal/model"
	"github.com/flowgraph/attractor/internal/runtime"
)

// Handler is the contract every node handler implements: read context, do
// work, express mutations as Outcome.ContextUpdates rather than writing
// context directly.
type Handler interface {
	Execute(node *model.Node, ctx *runtime.Context, graph *model.Graph, logsRoot string) (*runtime.Outcome, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(node *model.Node, ctx *runtime.Context, graph *model.Graph, logsRoot string) (*runtime.Outcome, error)

func (f HandlerFunc) Execute(node *model.Node, ctx *runtime.Context, graph *model.Graph, logsRoot string) (*runtime.Outcome, error) {
	return f(node, ctx, graph, logsRoot)
}

// ShapeToType maps a DOT shape to its built-in handler type string.
var ShapeToType = map[string]string{
	"Mdiamond":      "start",
	"Msquare":       "exit",
	"box":           "codergen",
	"hexagon":       "wait.human",
	"diamond":       "conditional",
	"component":     "parallel",
	"tripleoctagon": "parallel.fan_in",
	"parallelogram": "tool",
	"house":         "stack.manager_loop",
}

// Registry maps a node's resolved type string to a Handler instance, with a
// handler-less fallback.
type Registry struct {
	mu             sync.RWMutex
	handlers       map[string]Handler
	defaultHandler Handler
}

// NewRegistry returns an empty registry; use Register to populate it and
// SetDefault to set the fallback used when neither type nor shape resolve.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(typeName string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typeName] = h
}

func (r *Registry) SetDefault(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultHandler = h
}

// Resolve implements the three-step dispatch from spec §4.4: explicit
// node.type, then shape mapping, then default. The caller is responsible
// for raising NoHandler when Resolve returns nil.
func (r *Registry) Resolve(n *model.Node) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t := n.TypeOverride(); t != "" {
		if h, ok := r.handlers[t]; ok {
			return h
		}
	}
	if t, ok := ShapeToType[n.Shape()]; ok {
		if h, ok := r.handlers[t]; ok {
			return h
		}
	}
	return r.defaultHandler
}
