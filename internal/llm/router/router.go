// Package router picks between the Anthropic and OpenAI codergen backends
// per node, based on node.llm_provider after the stylesheet cascade.
package router

import (
	"github.com/flowgraph/attractor/internal/llm"
	"github.com/flowgraph/attractor/internal/llm/anthropic"
	"github.com/flowgraph/attractor/internal/llm/openai"
	"github.com/flowgraph/attractor/internal/model"
	"github.com/flowgraph/attractor/internal/runtime"
)

// Backend dispatches Run to whichever provider adapter a node selects. A
// nil entry for the selected provider (no API key configured) surfaces as
// an error, which the caller's codergen handler falls back to simulating
// only when both backends are entirely absent — here it becomes a FAIL
// outcome via the normal handler error path instead, since the operator
// asked for a specific provider.
type Backend struct {
	Anthropic *anthropic.Adapter
	OpenAI    *openai.Adapter
}

// FromEnv builds a router from whichever provider API keys are present
// in the environment. Either or both fields may end up nil.
func FromEnv() *Backend {
	return &Backend{
		Anthropic: anthropic.NewFromEnv(),
		OpenAI:    openai.NewFromEnv(),
	}
}

func (b *Backend) Run(n *model.Node, prompt string, ctx *runtime.Context) (interface{}, error) {
	switch llm.ProviderFor(n) {
	case "openai":
		return b.OpenAI.Run(n, prompt, ctx)
	default:
		return b.Anthropic.Run(n, prompt, ctx)
	}
}
