// Package llm defines the provider-selection contract codergen nodes use
// to pick between the Anthropic and OpenAI backends, and the Run
// signature both adapters satisfy (internal/handler.CodergenBackend).
package llm

import (
	"github.com/flowgraph/attractor/internal/model"
	"github.com/flowgraph/attractor/internal/runtime"
)

// Backend mirrors handler.CodergenBackend without importing the handler
// package, avoiding an import cycle (handler -> llm would be backwards).
type Backend interface {
	Run(node *model.Node, prompt string, ctx *runtime.Context) (interface{}, error)
}

// ProviderFor resolves node.llm_provider (already resolved by the
// stylesheet cascade) to a provider key, defaulting to Anthropic.
func ProviderFor(n *model.Node) string {
	switch n.Attr("llm_provider", "") {
	case "openai":
		return "openai"
	default:
		return "anthropic"
	}
}

// DefaultModel returns node.llm_model, or provider is a sane built-in
// default when the node (and stylesheet) leave it unset.
func DefaultModel(n *model.Node, provider string) string {
	if m := n.Attr("llm_model", ""); m != "" {
		return m
	}
	switch provider {
	case "openai":
		return "gpt-4o"
	default:
		return "claude-sonnet-4-5-20250929"
	}
}
